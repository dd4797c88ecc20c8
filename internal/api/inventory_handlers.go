package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/inventory"
)

// SlotLedger is the doctor-inventory service's view of inventory.Ledger.
type SlotLedger interface {
	Reserve(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error)
	Release(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*inventory.DoctorView, error)
	CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*inventory.SlotView, error)
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, req inventory.GenerateRequest) ([]inventory.SlotView, error)
	AvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]inventory.SlotView, error)
}

type inventoryHandlers struct {
	ledger SlotLedger
	log    *logrus.Entry
}

func (h *inventoryHandlers) reserve(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, h.ledger.Reserve)
}

func (h *inventoryHandlers) release(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, h.ledger.Release)
}

func (h *inventoryHandlers) slotAction(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*inventory.SlotView, error)) {
	slotID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doctorID, ok := queryUUID(w, r, "doctor_id")
	if !ok {
		return
	}
	appointmentID, ok := queryUUID(w, r, "appointment_id")
	if !ok {
		return
	}

	view, err := op(r.Context(), slotID, doctorID, appointmentID)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *inventoryHandlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.ledger.GetDoctor(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *inventoryHandlers) getFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.ledger.GetDoctor(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, FeeResponse{DoctorID: doc.ID, ConsultationFee: doc.ConsultationFee})
}

func (h *inventoryHandlers) createSlot(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req CreateSlotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	view, err := h.ledger.CreateSlot(r.Context(), doctorID, req.StartTime, req.EndTime)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *inventoryHandlers) generateSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req GenerateSlotsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// formats were checked by the validator
	from, _ := time.Parse(time.DateOnly, req.FromDate)
	to, _ := time.Parse(time.DateOnly, req.ToDate)

	views, err := h.ledger.GenerateSlots(r.Context(), doctorID, inventory.GenerateRequest{
		From:     from,
		To:       to,
		DayStart: clockOffset(req.DayStart),
		DayEnd:   clockOffset(req.DayEnd),
		Length:   time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, views)
}

func (h *inventoryHandlers) available(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := queryUUID(w, r, "doctor_id")
	if !ok {
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	views, err := h.ledger.AvailableSlots(r.Context(), doctorID, day)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func clockOffset(hhmm string) time.Duration {
	t, _ := time.Parse("15:04", hhmm)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}
