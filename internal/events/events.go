// Package events carries appointment outcome events to downstream billing
// and notification consumers. Delivery is at-least-once: consumers must
// dedupe on Header.DedupeKey.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicBooked      = "appointment.booked"
	TopicCanceled    = "appointment.canceled"
	TopicRescheduled = "appointment.rescheduled"
	TopicCompleted   = "appointment.completed"
)

var AllTopics = []string{TopicBooked, TopicCanceled, TopicRescheduled, TopicCompleted}

const (
	TypeBooked      = "APPOINTMENT_BOOKED"
	TypeCanceled    = "APPOINTMENT_CANCELED"
	TypeRescheduled = "APPOINTMENT_RESCHEDULED"
	TypeCompleted   = "APPOINTMENT_COMPLETED"
)

type Header struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Version       int       `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
	DedupeKey     string    `json:"dedupe_key"`
}

// NewHeader stamps an event. version is the appointment row version after
// the transition, so a redelivered event always carries the same key.
func NewHeader(eventType string, appointmentID uuid.UUID, version int, at time.Time) Header {
	return Header{
		EventID:       uuid.New(),
		EventType:     eventType,
		AppointmentID: appointmentID,
		Version:       version,
		OccurredAt:    at.UTC(),
		DedupeKey:     fmt.Sprintf("%s:%s:%d", appointmentID, eventType, version),
	}
}

type Booked struct {
	Header
	PatientID            uuid.UUID `json:"patient_id"`
	PatientName          string    `json:"patient_name,omitempty"`
	PatientEmail         string    `json:"patient_email,omitempty"`
	DoctorID             uuid.UUID `json:"doctor_id"`
	DoctorName           string    `json:"doctor_name,omitempty"`
	DoctorSpecialization string    `json:"doctor_specialization,omitempty"`
	SlotID               uuid.UUID `json:"slot_id"`
	AppointmentDateTime  time.Time `json:"appointment_date_time"`
	EstimatedFeeAmount   float64   `json:"estimated_fee_amount"`
	Currency             string    `json:"currency"`
}

type Canceled struct {
	Header
	PatientID            uuid.UUID `json:"patient_id"`
	PatientName          string    `json:"patient_name,omitempty"`
	PatientEmail         string    `json:"patient_email,omitempty"`
	DoctorID             uuid.UUID `json:"doctor_id"`
	DoctorName           string    `json:"doctor_name,omitempty"`
	DoctorSpecialization string    `json:"doctor_specialization,omitempty"`
	SlotID               uuid.UUID `json:"slot_id"`
	AppointmentDateTime  time.Time `json:"appointment_date_time"`
	EstimatedFeeAmount   float64   `json:"estimated_fee_amount"`
	Currency             string    `json:"currency"`
	CanceledBy           uuid.UUID `json:"canceled_by"`
	CancellationReason   string    `json:"cancellation_reason"`
	SlotReleased         bool      `json:"slot_released"`
}

type Rescheduled struct {
	Header
	PatientID              uuid.UUID `json:"patient_id"`
	PatientName            string    `json:"patient_name,omitempty"`
	PatientEmail           string    `json:"patient_email,omitempty"`
	OldDoctorID            uuid.UUID `json:"old_doctor_id"`
	OldDoctorName          string    `json:"old_doctor_name,omitempty"`
	OldSlotID              uuid.UUID `json:"old_slot_id"`
	OldAppointmentDateTime time.Time `json:"old_appointment_date_time"`
	DoctorID               uuid.UUID `json:"doctor_id"`
	DoctorName             string    `json:"doctor_name,omitempty"`
	DoctorSpecialization   string    `json:"doctor_specialization,omitempty"`
	SlotID                 uuid.UUID `json:"slot_id"`
	AppointmentDateTime    time.Time `json:"appointment_date_time"`
	EstimatedFeeAmount     float64   `json:"estimated_fee_amount"`
	Currency               string    `json:"currency"`
	OldSlotReleased        bool      `json:"old_slot_released"`
}

// Completed is the billing trigger; it must be enough to raise a bill.
type Completed struct {
	Header
	PatientID           uuid.UUID `json:"patient_id"`
	PatientName         string    `json:"patient_name,omitempty"`
	PatientEmail        string    `json:"patient_email,omitempty"`
	DoctorID            uuid.UUID `json:"doctor_id"`
	DoctorName          string    `json:"doctor_name,omitempty"`
	AppointmentDateTime time.Time `json:"appointment_date_time"`
	CompletionDateTime  time.Time `json:"completion_date_time"`
	BaseFeeAmount       float64   `json:"base_fee_amount"`
	Currency            string    `json:"currency"`
}
