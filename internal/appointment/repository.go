package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.NotFound, "appointment not found")
	// ErrStaleAppointment is returned when a conditional update finds the
	// row no longer in the state the caller read.
	ErrStaleAppointment = apperr.New(apperr.Conflict, "appointment was modified concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus moves the row from one status to another if it is still at
	// the given version; otherwise ErrStaleAppointment.
	UpdateStatus(ctx context.Context, id uuid.UUID, version int, from, to AppointmentStatus) (*Appointment, error)

	// Reschedule rewrites slot, doctor and time and sets RESCHEDULED under the same guard.
	Reschedule(ctx context.Context, id uuid.UUID, version int, doctorID, slotID uuid.UUID, at time.Time) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAll(ctx context.Context, limit, offset int) ([]Appointment, error)

	// Sweeper
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Appointment, error)
}
