package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/persistence"
)

const (
	uniqueViolation        = "23505"
	pendingPerUserIndex    = "uq_payment_sessions_pending_user"
	defaultPendingListSize = 500
)

// PaymentRepository persists payment sessions. Status transitions are guarded
// compare-and-set updates from PENDING.
type PaymentRepository interface {
	Create(ctx context.Context, session *domain.PaymentSession) error
	GetByReference(ctx context.Context, reference string) (*domain.PaymentSession, error)
	GetPendingByUser(ctx context.Context, userID string) (*domain.PaymentSession, error)
	ListPending(ctx context.Context, limit int) ([]domain.PaymentSession, error)
	// Settle marks the session PAID and unlocks its user, moving a waiting user to
	// ACTIVE. ok is false when the session was not PENDING, in which case nothing
	// changes.
	Settle(ctx context.Context, reference string) (session *domain.PaymentSession, ok bool, err error)
	// Fail marks the session FAILED and, when the user is still waiting on it,
	// returns them to NEW with a cleared profile.
	Fail(ctx context.Context, reference string) (session *domain.PaymentSession, ok bool, err error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type paymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a Postgres-backed implementation.
func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

const paymentColumns = `id, user_id, reference, poll_handle, amount_cents, currency, method, status, created_at, paid_at, failed_at`

func scanPayment(row pgx.Row) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Reference,
		&s.PollHandle,
		&s.AmountCents,
		&s.Currency,
		&s.Method,
		&s.Status,
		&s.CreatedAt,
		&s.PaidAt,
		&s.FailedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *paymentRepository) Create(ctx context.Context, session *domain.PaymentSession) error {
	const query = `
        INSERT INTO payment_sessions (user_id, reference, poll_handle, amount_cents, currency, method, status)
        VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
        RETURNING id, status, created_at`

	err := r.pool.QueryRow(ctx, query,
		session.UserID,
		session.Reference,
		session.PollHandle,
		session.AmountCents,
		session.Currency,
		session.Method,
	).Scan(&session.ID, &session.Status, &session.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == pendingPerUserIndex {
		return domain.ErrPendingPaymentExists
	}
	return err
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (*domain.PaymentSession, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payment_sessions WHERE reference=$1`
	return scanPayment(r.pool.QueryRow(ctx, query, reference))
}

func (r *paymentRepository) GetPendingByUser(ctx context.Context, userID string) (*domain.PaymentSession, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payment_sessions WHERE user_id=$1 AND status='PENDING'`
	return scanPayment(r.pool.QueryRow(ctx, query, userID))
}

// ListPending returns PENDING sessions, oldest first.
func (r *paymentRepository) ListPending(ctx context.Context, limit int) ([]domain.PaymentSession, error) {
	const query = `
        SELECT ` + paymentColumns + `
        FROM payment_sessions WHERE status='PENDING'
        ORDER BY created_at ASC
        LIMIT $1`

	if limit <= 0 {
		limit = defaultPendingListSize
	}
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentSession
	for rows.Next() {
		s, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *paymentRepository) Settle(ctx context.Context, reference string) (*domain.PaymentSession, bool, error) {
	const markPaid = `
        UPDATE payment_sessions SET status='PAID', paid_at=NOW()
        WHERE reference=$1 AND status='PENDING'
        RETURNING ` + paymentColumns
	const unlockUser = `
        UPDATE users
        SET is_unlocked=TRUE,
            chat_state=CASE WHEN chat_state='PAYMENT_PENDING' THEN 'ACTIVE' ELSE chat_state END,
            updated_at=NOW()
        WHERE id=$1`

	var session *domain.PaymentSession
	err := persistence.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		s, err := scanPayment(tx.QueryRow(ctx, markPaid, reference))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, unlockUser, s.UserID); err != nil {
			return err
		}
		session = s
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

func (r *paymentRepository) Fail(ctx context.Context, reference string) (*domain.PaymentSession, bool, error) {
	const markFailed = `
        UPDATE payment_sessions SET status='FAILED', failed_at=NOW()
        WHERE reference=$1 AND status='PENDING'
        RETURNING ` + paymentColumns
	const releaseUser = `
        UPDATE users SET chat_state='NEW', updated_at=NOW()
        WHERE id=$1 AND chat_state='PAYMENT_PENDING'`

	var session *domain.PaymentSession
	err := persistence.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		s, err := scanPayment(tx.QueryRow(ctx, markFailed, reference))
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, releaseUser, s.UserID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() > 0 {
			if err := resetProfile(ctx, tx, s.UserID); err != nil {
				return err
			}
		}
		session = s
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

func (r *paymentRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	const query = `SELECT status, COUNT(*) FROM payment_sessions GROUP BY status`
	return countGroups(ctx, r.pool, query)
}
