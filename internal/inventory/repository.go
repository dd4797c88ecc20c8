package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrDoctorNotFound   = apperr.New(apperr.NotFound, "doctor not found")
	ErrSlotNotFound     = apperr.New(apperr.NotFound, "slot not found for doctor")
	ErrSlotHeldByOther  = apperr.New(apperr.Conflict, "slot is already reserved by another appointment")
	ErrSlotNotReserved  = apperr.New(apperr.Conflict, "slot is already free")
	ErrReleaseForbidden = apperr.New(apperr.Forbidden, "slot is not reserved by this appointment")
	ErrSlotOverlap      = apperr.New(apperr.Conflict, "slot overlaps an existing slot for this doctor")
	ErrDoctorInactive   = apperr.New(apperr.InvalidInput, "doctor is not active")
)

// Repository is the slot ledger's storage. ReserveSlot and ReleaseSlot are
// compare-and-set operations: they only mutate the row when the guard on
// (reserved, appointment_id) holds, and report ok=false otherwise so the
// caller can classify the failure from a fresh read.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// GetSlot returns ErrSlotNotFound when the slot does not exist or belongs to another doctor.
	GetSlot(ctx context.Context, slotID, doctorID uuid.UUID) (*Slot, error)

	ReserveSlot(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error)
	ReleaseSlot(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error)

	ListSlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	InsertSlots(ctx context.Context, slots []Slot) error
}
