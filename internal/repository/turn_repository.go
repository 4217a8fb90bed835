package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/persistence"
)

// TurnWrite is everything one conversation turn persists.
type TurnWrite struct {
	UserID string
	// ExpectedState is the stored state the turn was computed from.
	ExpectedState domain.ChatState
	Next          domain.ChatState
	Flow          string
	Reset         bool
	Updates       []domain.FieldUpdate
	Complete      bool
	// Submit files the loan draft before Reset clears it.
	Submit bool
}

// TurnRepository commits a turn atomically.
type TurnRepository interface {
	ApplyTurn(ctx context.Context, w TurnWrite) error
}

type turnRepository struct {
	pool *pgxpool.Pool
}

// NewTurnRepository returns a Postgres-backed implementation.
func NewTurnRepository(pool *pgxpool.Pool) TurnRepository {
	return &turnRepository{pool: pool}
}

// ApplyTurn writes state, flow, submission, reset, field updates and completion in one
// transaction. The state write is guarded on ExpectedState; a mismatch rolls
// everything back with domain.ErrStateConflict.
func (r *turnRepository) ApplyTurn(ctx context.Context, w TurnWrite) error {
	const moveState = `
        UPDATE users
        SET chat_state=$3,
            flow=CASE WHEN $4::text = '' THEN flow ELSE $4::text END,
            updated_at=NOW()
        WHERE id=$1 AND chat_state=$2`

	return persistence.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, moveState, w.UserID, w.ExpectedState, w.Next, w.Flow)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return domain.ErrStateConflict
		}
		if w.Submit {
			if err := submitApplication(ctx, tx, w.UserID); err != nil {
				return err
			}
		}
		if w.Reset {
			if err := resetProfile(ctx, tx, w.UserID); err != nil {
				return err
			}
		}
		for _, u := range w.Updates {
			if err := updateField(ctx, tx, w.UserID, u); err != nil {
				return err
			}
		}
		if w.Complete {
			if err := markComplete(ctx, tx, w.UserID); err != nil {
				return err
			}
		}
		return nil
	})
}
