package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/matchbot/internal/domain"
)

const defaultApplicationListSize = 100

// ApplicationRepository reads submitted loan applications. Submission happens
// inside ApplyTurn.
type ApplicationRepository interface {
	List(ctx context.Context, limit int) ([]domain.LoanApplication, error)
}

type applicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository returns a Postgres-backed implementation.
func NewApplicationRepository(pool *pgxpool.Pool) ApplicationRepository {
	return &applicationRepository{pool: pool}
}

// submitApplication copies the profile's loan draft into applications.
func submitApplication(ctx context.Context, db dbtx, userID string) error {
	const query = `
        INSERT INTO applications (user_id, phone, product, full_name, age, address, national_id, id_photo, amount_units)
        SELECT u.id, u.phone, p.loan_product, p.name, p.age, p.address, p.national_id, p.id_photo, p.loan_amount
        FROM users u
        JOIN profiles p ON p.user_id = u.id
        WHERE u.id=$1 AND p.loan_product <> '' AND p.loan_amount > 0`

	err := execOne(ctx, db, query, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrIncompleteApplication
	}
	return err
}

// List returns the newest applications first.
func (r *applicationRepository) List(ctx context.Context, limit int) ([]domain.LoanApplication, error) {
	const query = `
        SELECT id, user_id, phone, product, full_name, age, address, national_id, id_photo,
               amount_units, status, created_at
        FROM applications
        ORDER BY created_at DESC
        LIMIT $1`

	if limit <= 0 {
		limit = defaultApplicationListSize
	}
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoanApplication
	for rows.Next() {
		var a domain.LoanApplication
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Phone,
			&a.Product,
			&a.FullName,
			&a.Age,
			&a.Address,
			&a.NationalID,
			&a.IDPhoto,
			&a.AmountUnits,
			&a.Status,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
