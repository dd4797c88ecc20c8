package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type AppointmentService interface {
	Book(ctx context.Context, caller appointment.Caller, req appointment.BookRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, caller appointment.Caller, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Complete(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
	Get(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, caller appointment.Caller, page appointment.Page) ([]appointment.Appointment, error)
}

type appointmentHandlers struct {
	svc AppointmentService
	log *logrus.Entry
}

func (h *appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req CreateAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	book := appointment.BookRequest{
		DoctorID:            uuid.MustParse(req.DoctorID),
		SlotID:              uuid.MustParse(req.SlotID),
		AppointmentDateTime: req.AppointmentDateTime,
	}
	if req.PatientID != nil {
		id := uuid.MustParse(*req.PatientID)
		book.PatientID = &id
	}

	appt, err := h.svc.Book(r.Context(), caller, book)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *appointmentHandlers) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *appointmentHandlers) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, appointment.Caller, uuid.UUID) (*appointment.Appointment, error)) {
	caller, _ := CallerFrom(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := op(r.Context(), caller, id)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resched := appointment.RescheduleRequest{
		SlotID:              uuid.MustParse(req.SlotID),
		AppointmentDateTime: req.AppointmentDateTime,
	}
	if req.DoctorID != nil {
		d := uuid.MustParse(*req.DoctorID)
		resched.DoctorID = &d
	}

	appt, err := h.svc.Reschedule(r.Context(), caller, id, resched)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), caller, id)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.svc.List(r.Context(), caller, appointment.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
