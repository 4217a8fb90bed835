package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/persistence"
)

// UserRepository defines persistence access for messaging identities.
type UserRepository interface {
	GetOrCreateByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	CountByState(ctx context.Context) (map[string]int64, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, phone, chat_state, flow, gender, is_unlocked, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.State,
		&user.Flow,
		&user.Gender,
		&user.IsUnlocked,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreateByPhone returns the user for phone, creating it and its empty
// profile row on first contact.
func (r *userRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*domain.User, error) {
	const upsertUser = `
        INSERT INTO users (phone) VALUES ($1)
        ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
        RETURNING ` + userColumns
	const ensureProfile = `
        INSERT INTO profiles (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING`

	var user *domain.User
	err := persistence.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, upsertUser, phone))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ensureProfile, u.ID); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	const query = `SELECT chat_state, COUNT(*) FROM users GROUP BY chat_state`
	return countGroups(ctx, r.pool, query)
}

// execOne runs a single-row update and maps "no row" to pgx.ErrNoRows.
func execOne(ctx context.Context, db dbtx, query string, args ...any) error {
	cmd, err := db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func countGroups(ctx context.Context, db dbtx, query string) (map[string]int64, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
