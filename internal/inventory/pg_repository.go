package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const slotColumns = `id, doctor_id, start_time, end_time, reserved, appointment_id, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Specialization,
		&d.Email,
		&d.ConsultationFee,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var appointmentID *uuid.UUID

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Reserved,
		&appointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.AppointmentID = appointmentID
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialization, email, consultation_fee::float8, status, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetSlot(ctx context.Context, slotID, doctorID uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE id = $1 AND doctor_id = $2
	`, slotID, doctorID)
	return scanSlot(row)
}

func (r *PgRepository) ReserveSlot(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error) {
	// A slot already held by the same appointment matches the guard and is
	// left as is, which keeps repeated reserves idempotent.
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_slots
		SET reserved = true,
		    appointment_id = $3,
		    updated_at = CASE WHEN reserved THEN updated_at ELSE now() END
		WHERE id = $1
		  AND doctor_id = $2
		  AND (NOT reserved OR appointment_id = $3)
		RETURNING `+slotColumns,
		slotID, doctorID, appointmentID)

	return casResult(scanSlot(row))
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_slots
		SET reserved = false,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND doctor_id = $2
		  AND reserved
		  AND appointment_id = $3
		RETURNING `+slotColumns,
		slotID, doctorID, appointmentID)

	return casResult(scanSlot(row))
}

func casResult(s *Slot, err error) (*Slot, bool, error) {
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return s, true, nil
}

func (r *PgRepository) ListSlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE doctor_id = $1
		  AND NOT reserved
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin slot insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO doctor_slots (id, doctor_id, start_time, end_time, reserved, appointment_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, false, NULL, now(), now())
		`, s.ID, s.DoctorID, s.StartTime, s.EndTime)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSlotOverlap
		}
		return fmt.Errorf("insert slots: %w", err)
	}

	return tx.Commit(ctx)
}
