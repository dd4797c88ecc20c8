package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Details, error) {
	var d Details
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, status, last_updated
		FROM patient_details
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Email, &d.Status, &d.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient details: %w", err)
	}
	return &d, nil
}

// Upsert never brings a DELETED patient back.
func (r *PgRepository) Upsert(ctx context.Context, d Details) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_details (id, name, email, status, last_updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    status = EXCLUDED.status,
		    last_updated = now()
		WHERE patient_details.status <> 'DELETED'
	`, d.ID, d.Name, d.Email, d.Status)
	if err != nil {
		return fmt.Errorf("upsert patient details: %w", err)
	}
	return nil
}

// MarkDeleted writes a tombstone, inserting one when the patient was never
// projected.
func (r *PgRepository) MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patient_details (id, name, email, status, last_updated)
		VALUES ($1, '', '', 'DELETED', now())
		ON CONFLICT (id) DO UPDATE
		SET status = 'DELETED', last_updated = now()
		RETURNING (xmax = 0)
	`, id).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("mark patient deleted: %w", err)
	}
	return !inserted, nil
}
