package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/inventory"
)

// SlotLedger is the doctor-inventory service's reservation API. Errors carry
// an apperr.Kind; timeouts and transport failures are UpstreamUnavailable.
type SlotLedger interface {
	Reserve(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error)
	Release(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error)
}

type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// Locker serializes mutations of a single appointment. A lock held by someone
// else is reported as a Conflict.
type Locker interface {
	WithAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error
}
