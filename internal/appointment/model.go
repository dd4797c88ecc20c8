package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "PENDING"
	StatusScheduled   AppointmentStatus = "SCHEDULED"
	StatusRescheduled AppointmentStatus = "RESCHEDULED"
	StatusCanceled    AppointmentStatus = "CANCELED"
	StatusCompleted   AppointmentStatus = "COMPLETED"
	StatusFailed      AppointmentStatus = "FAILED"
)

// Active reports whether the appointment currently holds its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

type Appointment struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	DoctorID            uuid.UUID
	DoctorSlotID        *uuid.UUID
	AppointmentDateTime time.Time
	Status              AppointmentStatus
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Patient is the subset of the patient record the booking flow relies on.
type Patient struct {
	ID     uuid.UUID
	Name   string
	Email  string
	Status string
}

const PatientActive = "ACTIVE"

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	ConsultationFee float64
}

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
)

// Caller identifies who is asking, as established by the auth layer.
type Caller struct {
	ID   uuid.UUID
	Role Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

type BookRequest struct {
	PatientID           *uuid.UUID // required for admins, optional for patients
	DoctorID            uuid.UUID
	SlotID              uuid.UUID
	AppointmentDateTime time.Time
}

type RescheduleRequest struct {
	DoctorID            *uuid.UUID // keeps the current doctor when nil
	SlotID              uuid.UUID
	AppointmentDateTime time.Time
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
