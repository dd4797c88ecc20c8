// Package patient keeps a local projection of the patient-record service so
// bookings can check patient status without a synchronous call.
package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

const (
	EventCreated = "PATIENT_CREATED"
	EventUpdated = "PATIENT_UPDATED"
	EventDeleted = "PATIENT_DELETED"

	StatusDeleted = "DELETED"
)

var ErrPatientNotFound = apperr.New(apperr.NotFound, "patient not found")

// Event is the message published on the patient topic.
type Event struct {
	EventType string `json:"eventType"`
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Status    string `json:"status"`
}

type Details struct {
	ID          uuid.UUID
	Name        string
	Email       string
	Status      string
	LastUpdated time.Time
}

// Repository stores the projection. DELETED is final: a delete that arrives
// first leaves a tombstone and later upserts for that id are ignored.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Details, error)
	Upsert(ctx context.Context, d Details) error
	// MarkDeleted reports false when the patient was never projected.
	MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error)
}
