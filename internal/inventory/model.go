package inventory

import (
	"time"

	"github.com/google/uuid"
)

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "ACTIVE"
	DoctorInactive DoctorStatus = "INACTIVE"
)

type Doctor struct {
	ID              uuid.UUID
	FirstName       string
	LastName        string
	Specialization  string
	Email           string
	ConsultationFee float64
	Status          DoctorStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (d Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

// Slot is a bookable window. Reserved is true exactly when AppointmentID is set.
type Slot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Reserved      bool
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s Slot) ReservedBy(appointmentID uuid.UUID) bool {
	return s.Reserved && s.AppointmentID != nil && *s.AppointmentID == appointmentID
}

func (s Slot) overlaps(start, end time.Time) bool {
	return start.Before(s.EndTime) && end.After(s.StartTime)
}

// SlotView is the wire representation returned by reserve/release.
type SlotView struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Reserved      bool       `json:"reserved"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func (s Slot) View() SlotView {
	return SlotView{
		ID:            s.ID,
		DoctorID:      s.DoctorID,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Reserved:      s.Reserved,
		AppointmentID: s.AppointmentID,
	}
}

// DoctorView is what the appointment service needs to know about a doctor.
type DoctorView struct {
	ID              uuid.UUID    `json:"id"`
	Name            string       `json:"name"`
	Specialization  string       `json:"specialization"`
	Email           string       `json:"email"`
	ConsultationFee float64      `json:"consultation_fee"`
	Status          DoctorStatus `json:"status"`
}

func (d Doctor) View() DoctorView {
	return DoctorView{
		ID:              d.ID,
		Name:            d.FullName(),
		Specialization:  d.Specialization,
		Email:           d.Email,
		ConsultationFee: d.ConsultationFee,
		Status:          d.Status,
	}
}
