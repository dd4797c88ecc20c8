package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID           *string   `json:"patientId" validate:"omitempty,uuid"`
	DoctorID            string    `json:"doctorId" validate:"required,uuid"`
	SlotID              string    `json:"slotId" validate:"required,uuid"`
	AppointmentDateTime time.Time `json:"appointmentDateTime" validate:"required"`
}

type RescheduleAppointmentRequest struct {
	DoctorID            *string   `json:"doctorId" validate:"omitempty,uuid"`
	SlotID              string    `json:"slotId" validate:"required,uuid"`
	AppointmentDateTime time.Time `json:"appointmentDateTime" validate:"required"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patientId"`
	DoctorID            uuid.UUID  `json:"doctorId"`
	DoctorSlotID        *uuid.UUID `json:"doctorSlotId,omitempty"`
	AppointmentDateTime time.Time  `json:"appointmentDateTime"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		DoctorID:            a.DoctorID,
		DoctorSlotID:        a.DoctorSlotID,
		AppointmentDateTime: a.AppointmentDateTime,
		Status:              string(a.Status),
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

type GenerateSlotsRequest struct {
	FromDate        string `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate          string `json:"to_date" validate:"required,datetime=2006-01-02"`
	DayStart        string `json:"day_start" validate:"required,datetime=15:04"`
	DayEnd          string `json:"day_end" validate:"required,datetime=15:04"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=5,max=480"`
}

type FeeResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	ConsultationFee float64   `json:"consultation_fee"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
