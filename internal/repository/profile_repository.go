package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/matchbot/internal/domain"
)

// CandidateFilter narrows the candidate snapshot before the engine's exact checks.
type CandidateFilter struct {
	ExcludeUserID string
	Intents       []domain.Intent
	// Age of the seeker; candidates whose range excludes it are skipped.
	Age    int
	AgeMin int
	AgeMax int
}

// ProfileRepository stores one evolving profile per user (upsert-latest).
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (*domain.Profile, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]domain.Candidate, error)
	// GetCandidates loads completed profiles by id, in the order given. Ids
	// without a completed profile are skipped.
	GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error)
}

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a Postgres-backed implementation.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

// fieldStatements is the allow-list of writable fields. Column names never come
// from input; an unknown field has no statement.
var fieldStatements = map[domain.ProfileField]string{
	domain.FieldName:            `UPDATE profiles SET name=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldAge:             `UPDATE profiles SET age=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldLocation:        `UPDATE profiles SET location=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldIntent:          `UPDATE profiles SET intent=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldPreferredGender: `UPDATE profiles SET preferred_gender=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldAgeMin:          `UPDATE profiles SET age_min=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldAgeMax:          `UPDATE profiles SET age_max=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldContactPhone:    `UPDATE profiles SET contact_phone=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldPicture:         `UPDATE profiles SET picture=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldPayCurrency:     `UPDATE profiles SET pay_currency=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldPayMethod:       `UPDATE profiles SET pay_method=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldMatchIDs:        `UPDATE profiles SET match_ids=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldAddress:         `UPDATE profiles SET address=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldNationalID:      `UPDATE profiles SET national_id=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldIDPhoto:         `UPDATE profiles SET id_photo=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldLoanProduct:     `UPDATE profiles SET loan_product=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldLoanAmount:      `UPDATE profiles SET loan_amount=$2, updated_at=NOW() WHERE user_id=$1`,
	domain.FieldGender:          `UPDATE users SET gender=$2, updated_at=NOW() WHERE id=$1`,
}

const profileColumns = `user_id, name, age, location, intent, preferred_gender, age_min, age_max,
               contact_phone, picture, pay_currency, pay_method, match_ids,
               address, national_id, id_photo, loan_product, loan_amount, completed_at, updated_at`

// Get returns the user's profile; a missing row yields an empty profile.
func (r *profileRepository) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	return getProfile(ctx, r.pool, userID)
}

func getProfile(ctx context.Context, db dbtx, userID string) (*domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE user_id=$1`

	var p domain.Profile
	err := db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.Name,
		&p.Age,
		&p.Location,
		&p.Intent,
		&p.PreferredGender,
		&p.AgeMin,
		&p.AgeMax,
		&p.ContactPhone,
		&p.Picture,
		&p.PayCurrency,
		&p.PayMethod,
		&p.MatchIDs,
		&p.Address,
		&p.NationalID,
		&p.IDPhoto,
		&p.LoanProduct,
		&p.LoanAmount,
		&p.CompletedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func updateField(ctx context.Context, db dbtx, userID string, update domain.FieldUpdate) error {
	stmt, ok := fieldStatements[update.Field]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownField, update.Field)
	}
	var value any = update.Text
	switch {
	case update.Field.IntField():
		value = update.Int
	case update.Field == domain.FieldMatchIDs:
		value = update.IDs
	}
	return execOne(ctx, db, stmt, userID, value)
}

// resetProfile clears everything gathered in the current attempt, including the
// gender stored on the user row.
func resetProfile(ctx context.Context, db dbtx, userID string) error {
	const resetProfileRow = `
        INSERT INTO profiles (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO UPDATE SET
            name='', age=0, location='', intent='', preferred_gender='', age_min=0, age_max=0,
            contact_phone='', picture='', pay_currency='', pay_method='', match_ids='{}',
            address='', national_id='', id_photo='', loan_product='', loan_amount=0,
            completed_at=NULL, updated_at=NOW()`
	const resetGender = `UPDATE users SET gender='', updated_at=NOW() WHERE id=$1`

	if _, err := db.Exec(ctx, resetProfileRow, userID); err != nil {
		return err
	}
	_, err := db.Exec(ctx, resetGender, userID)
	return err
}

func markComplete(ctx context.Context, db dbtx, userID string) error {
	const query = `UPDATE profiles SET completed_at=NOW(), updated_at=NOW() WHERE user_id=$1`
	return execOne(ctx, db, query, userID)
}

const candidateColumns = `u.id, u.gender, p.name, p.age, p.location, p.intent, p.preferred_gender,
               p.age_min, p.age_max, p.contact_phone, p.picture`

// ListCandidates returns completed profiles other than the seeker's whose intent is
// in filter.Intents and whose age preferences admit the seeker.
func (r *profileRepository) ListCandidates(ctx context.Context, filter CandidateFilter) ([]domain.Candidate, error) {
	const query = `
        SELECT ` + candidateColumns + `
        FROM profiles p
        JOIN users u ON u.id = p.user_id
        WHERE p.completed_at IS NOT NULL
          AND p.user_id <> $1
          AND p.intent = ANY($2)
          AND p.age BETWEEN $3 AND $4
          AND $5 BETWEEN p.age_min AND p.age_max`

	if len(filter.Intents) == 0 {
		return nil, nil
	}
	intents := make([]string, len(filter.Intents))
	for i, in := range filter.Intents {
		intents[i] = string(in)
	}

	rows, err := r.pool.Query(ctx, query, filter.ExcludeUserID, intents, filter.AgeMin, filter.AgeMax, filter.Age)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows)
}

// GetCandidates keeps the caller's order through the ordinality of the id array.
func (r *profileRepository) GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error) {
	const query = `
        SELECT ` + candidateColumns + `
        FROM unnest($1::text[]) WITH ORDINALITY AS sel(id, ord)
        JOIN profiles p ON p.user_id = sel.id::uuid
        JOIN users u ON u.id = p.user_id
        WHERE p.completed_at IS NOT NULL
        ORDER BY sel.ord`

	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows)
}

func scanCandidates(rows pgx.Rows) ([]domain.Candidate, error) {
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(
			&c.UserID,
			&c.Gender,
			&c.Name,
			&c.Age,
			&c.Location,
			&c.Intent,
			&c.PreferredGender,
			&c.AgeMin,
			&c.AgeMax,
			&c.ContactPhone,
			&c.Picture,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
