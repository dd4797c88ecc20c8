package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/events"
)

var (
	ErrAlreadyCanceled  = apperr.New(apperr.Conflict, "appointment already canceled")
	ErrAlreadyCompleted = apperr.New(apperr.Conflict, "appointment already completed")
	ErrNotActive        = apperr.New(apperr.Conflict, "appointment does not hold a slot")
	ErrPatientInactive  = apperr.New(apperr.InvalidInput, "patient is not active")
	ErrNotYourPatient   = apperr.New(apperr.Forbidden, "patients can only book for themselves")
	ErrAccessDenied     = apperr.New(apperr.Forbidden, "not allowed to access this appointment")
	ErrInvalidFee       = apperr.New(apperr.InvalidInput, "doctor consultation fee is not configured")
)

// Policy holds the timing rules of the booking flow.
type Policy struct {
	BookingLeadTime    time.Duration
	RescheduleLeadTime time.Duration
	CancellationWindow time.Duration
	PendingStaleAfter  time.Duration
	Currency           string
}

const sweepBatch = 100

// Service orchestrates bookings against the slot ledger. The local PENDING
// row is always written before the ledger is called, and the ledger's answer
// decides the final local state.
type Service struct {
	repo      Repository
	ledger    SlotLedger
	patients  PatientDirectory
	doctors   DoctorDirectory
	publisher events.Publisher
	locker    Locker
	policy    Policy
	log       *logrus.Entry
	now       func() time.Time
}

func NewService(
	repo Repository,
	ledger SlotLedger,
	patients PatientDirectory,
	doctors DoctorDirectory,
	publisher events.Publisher,
	locker Locker,
	policy Policy,
	log *logrus.Entry,
) *Service {
	if policy.Currency == "" {
		policy.Currency = "USD"
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		patients:  patients,
		doctors:   doctors,
		publisher: publisher,
		locker:    locker,
		policy:    policy,
		log:       log.WithField("component", "appointment_service"),
		now:       time.Now,
	}
}

// Book reserves a slot for a patient. Whatever the ledger answers, the
// appointment row survives: SCHEDULED on success, FAILED otherwise. When the
// ledger's answer is lost and the slot cannot be settled, the row stays
// PENDING for SweepStalePending.
//
// Caller cancellation is ignored once the operation starts; the ledger
// client's timeout bounds each remote call. The same holds for Cancel,
// Reschedule and Complete.
func (s *Service) Book(ctx context.Context, caller Caller, req BookRequest) (*Appointment, error) {
	ctx = context.WithoutCancel(ctx)

	patientID, err := resolvePatient(caller, req.PatientID)
	if err != nil {
		return nil, err
	}
	if req.DoctorID == uuid.Nil || req.SlotID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "doctorId and slotId are required")
	}
	if err := s.checkLeadTime(req.AppointmentDateTime, s.policy.BookingLeadTime); err != nil {
		return nil, err
	}

	patient, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("validate patient: %w", err)
	}
	if patient.Status != PatientActive {
		return nil, ErrPatientInactive
	}

	slotID := req.SlotID
	appt, err := s.repo.Create(ctx, &Appointment{
		ID:                  uuid.New(),
		PatientID:           patientID,
		DoctorID:            req.DoctorID,
		DoctorSlotID:        &slotID,
		AppointmentDateTime: req.AppointmentDateTime.UTC(),
		Status:              StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create pending appointment: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"appointment_id": appt.ID, "slot_id": slotID})

	if _, err := s.ledger.Reserve(ctx, slotID, req.DoctorID, appt.ID); err != nil {
		log.WithError(err).Info("slot reservation failed")
		// A timed out reserve may still have committed on the ledger side.
		if apperr.IsKind(err, apperr.UpstreamUnavailable) && !s.settleSlot(ctx, slotID, req.DoctorID, appt.ID) {
			log.Warn("reservation outcome unknown, leaving appointment PENDING for the sweep")
			return nil, fmt.Errorf("reserve slot: %w", err)
		}
		s.markFailed(ctx, appt)
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	scheduled, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Version, StatusPending, StatusScheduled)
	if err != nil {
		if s.settleSlot(ctx, slotID, req.DoctorID, appt.ID) {
			s.markFailed(ctx, appt)
		} else {
			log.Warn("slot still held, leaving appointment PENDING for the sweep")
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	doctor := s.lookupDoctor(ctx, scheduled.DoctorID)
	s.publisher.Publish(ctx, events.TopicBooked, scheduled.ID.String(), events.Booked{
		Header:               events.NewHeader(events.TypeBooked, scheduled.ID, scheduled.Version, s.now()),
		PatientID:            patient.ID,
		PatientName:          patient.Name,
		PatientEmail:         patient.Email,
		DoctorID:             scheduled.DoctorID,
		DoctorName:           doctor.Name,
		DoctorSpecialization: doctor.Specialization,
		SlotID:               slotID,
		AppointmentDateTime:  scheduled.AppointmentDateTime,
		EstimatedFeeAmount:   doctor.ConsultationFee,
		Currency:             s.policy.Currency,
	})

	log.Info("appointment scheduled")
	return scheduled, nil
}

// Cancel commits the cancellation locally first; releasing the slot is a
// follow-up whose failure is only logged.
func (s *Service) Cancel(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	ctx = context.WithoutCancel(ctx)

	var canceled *Appointment
	var released bool

	err := s.withLock(ctx, id, func(ctx context.Context) error {
		appt, err := s.loadOwned(ctx, caller, id)
		if err != nil {
			return err
		}

		switch appt.Status {
		case StatusCanceled:
			return ErrAlreadyCanceled
		case StatusCompleted:
			return apperr.New(apperr.Conflict, "completed appointment cannot be canceled")
		case StatusPending, StatusFailed:
			return ErrNotActive
		}

		if appt.AppointmentDateTime.Before(s.now().Add(s.policy.CancellationWindow)) {
			return apperr.Newf(apperr.InvalidInput, "appointments cannot be canceled within %s of their start", s.policy.CancellationWindow)
		}

		canceled, err = s.repo.UpdateStatus(ctx, appt.ID, appt.Version, appt.Status, StatusCanceled)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if appt.DoctorSlotID != nil {
			released = s.releaseQuietly(ctx, *appt.DoctorSlotID, appt.DoctorID, appt.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := "canceled by patient"
	if caller.IsAdmin() {
		reason = "canceled by admin"
	}

	patient := s.lookupPatient(ctx, canceled.PatientID)
	doctor := s.lookupDoctor(ctx, canceled.DoctorID)
	s.publisher.Publish(ctx, events.TopicCanceled, canceled.ID.String(), events.Canceled{
		Header:               events.NewHeader(events.TypeCanceled, canceled.ID, canceled.Version, s.now()),
		PatientID:            canceled.PatientID,
		PatientName:          patient.Name,
		PatientEmail:         patient.Email,
		DoctorID:             canceled.DoctorID,
		DoctorName:           doctor.Name,
		DoctorSpecialization: doctor.Specialization,
		SlotID:               slotOrNil(canceled.DoctorSlotID),
		AppointmentDateTime:  canceled.AppointmentDateTime,
		EstimatedFeeAmount:   doctor.ConsultationFee,
		Currency:             s.policy.Currency,
		CanceledBy:           caller.ID,
		CancellationReason:   reason,
		SlotReleased:         released,
	})

	return canceled, nil
}

// Reschedule always reserves the target slot first, even when it is the
// current one. The old slot is released only after the appointment points at
// the new one.
func (s *Service) Reschedule(ctx context.Context, caller Caller, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx = context.WithoutCancel(ctx)

	if req.SlotID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "slotId is required")
	}
	if req.DoctorID != nil && *req.DoctorID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "doctorId must not be empty")
	}
	if err := s.checkLeadTime(req.AppointmentDateTime, s.policy.RescheduleLeadTime); err != nil {
		return nil, err
	}

	var before, after *Appointment
	var oldReleased bool

	err := s.withLock(ctx, id, func(ctx context.Context) error {
		appt, err := s.loadOwned(ctx, caller, id)
		if err != nil {
			return err
		}

		switch appt.Status {
		case StatusCanceled:
			return apperr.New(apperr.Conflict, "canceled appointment cannot be rescheduled")
		case StatusCompleted:
			return apperr.New(apperr.Conflict, "completed appointment cannot be rescheduled")
		case StatusPending, StatusFailed:
			return ErrNotActive
		}

		doctorID := appt.DoctorID
		if req.DoctorID != nil {
			doctorID = *req.DoctorID
		}

		if _, err := s.ledger.Reserve(ctx, req.SlotID, doctorID, appt.ID); err != nil {
			return fmt.Errorf("reserve new slot: %w", err)
		}

		sameSlot := appt.DoctorSlotID != nil && *appt.DoctorSlotID == req.SlotID

		after, err = s.repo.Reschedule(ctx, appt.ID, appt.Version, doctorID, req.SlotID, req.AppointmentDateTime.UTC())
		if err != nil {
			if !sameSlot {
				s.releaseQuietly(ctx, req.SlotID, doctorID, appt.ID)
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		before = appt

		if !sameSlot && appt.DoctorSlotID != nil {
			oldReleased = s.releaseQuietly(ctx, *appt.DoctorSlotID, appt.DoctorID, appt.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	patient := s.lookupPatient(ctx, after.PatientID)
	oldDoctor := s.lookupDoctor(ctx, before.DoctorID)
	newDoctor := oldDoctor
	if after.DoctorID != before.DoctorID {
		newDoctor = s.lookupDoctor(ctx, after.DoctorID)
	}

	s.publisher.Publish(ctx, events.TopicRescheduled, after.ID.String(), events.Rescheduled{
		Header:                 events.NewHeader(events.TypeRescheduled, after.ID, after.Version, s.now()),
		PatientID:              after.PatientID,
		PatientName:            patient.Name,
		PatientEmail:           patient.Email,
		OldDoctorID:            before.DoctorID,
		OldDoctorName:          oldDoctor.Name,
		OldSlotID:              slotOrNil(before.DoctorSlotID),
		OldAppointmentDateTime: before.AppointmentDateTime,
		DoctorID:               after.DoctorID,
		DoctorName:             newDoctor.Name,
		DoctorSpecialization:   newDoctor.Specialization,
		SlotID:                 req.SlotID,
		AppointmentDateTime:    after.AppointmentDateTime,
		EstimatedFeeAmount:     newDoctor.ConsultationFee,
		Currency:               s.policy.Currency,
		OldSlotReleased:        oldReleased,
	})

	return after, nil
}

// Complete marks a held appointment as done and emits the billing trigger.
// Only the appointment's doctor or an admin may complete it.
func (s *Service) Complete(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	ctx = context.WithoutCancel(ctx)

	var completed *Appointment
	var doctor *Doctor

	err := s.withLock(ctx, id, func(ctx context.Context) error {
		appt, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && caller.ID != appt.DoctorID {
			return apperr.New(apperr.Forbidden, "only the assigned doctor can complete this appointment")
		}

		switch appt.Status {
		case StatusCompleted:
			return ErrAlreadyCompleted
		case StatusCanceled:
			return apperr.New(apperr.Conflict, "canceled appointment cannot be completed")
		case StatusPending, StatusFailed:
			return ErrNotActive
		}

		doctor, err = s.doctors.GetDoctor(ctx, appt.DoctorID)
		if err != nil {
			return fmt.Errorf("load doctor fee: %w", err)
		}
		if doctor.ConsultationFee <= 0 {
			return ErrInvalidFee
		}

		completed, err = s.repo.UpdateStatus(ctx, appt.ID, appt.Version, appt.Status, StatusCompleted)
		if err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	patient := s.lookupPatient(ctx, completed.PatientID)
	s.publisher.Publish(ctx, events.TopicCompleted, completed.ID.String(), events.Completed{
		Header:              events.NewHeader(events.TypeCompleted, completed.ID, completed.Version, s.now()),
		PatientID:           completed.PatientID,
		PatientName:         patient.Name,
		PatientEmail:        patient.Email,
		DoctorID:            completed.DoctorID,
		DoctorName:          doctor.Name,
		AppointmentDateTime: completed.AppointmentDateTime,
		CompletionDateTime:  completed.UpdatedAt,
		BaseFeeAmount:       doctor.ConsultationFee,
		Currency:            s.policy.Currency,
	})

	return completed, nil
}

// Get returns one appointment if the caller is its patient, its doctor or an admin.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(caller, appt) {
		return nil, ErrAccessDenied
	}
	return appt, nil
}

// List returns the caller's visible appointments. Canceled and failed
// bookings are left out.
func (s *Service) List(ctx context.Context, caller Caller, page Page) ([]Appointment, error) {
	page = page.normalize()

	var (
		list []Appointment
		err  error
	)
	switch caller.Role {
	case RoleAdmin:
		list, err = s.repo.ListAll(ctx, page.Limit, page.Offset)
	case RoleDoctor:
		list, err = s.repo.ListByDoctor(ctx, caller.ID, page.Limit, page.Offset)
	case RolePatient:
		list, err = s.repo.ListByPatient(ctx, caller.ID, page.Limit, page.Offset)
	default:
		return nil, ErrAccessDenied
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if list == nil {
		list = []Appointment{}
	}
	return list, nil
}

// SweepStalePending fails bookings left PENDING by a crash between the local
// write and the ledger's answer. The slot is released first so a reservation
// that did go through is not leaked; rows whose release cannot be decided
// (ledger unreachable) wait for the next run.
func (s *Service) SweepStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.PendingStaleAfter)
	stale, err := s.repo.FindStalePending(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	failed := 0
	for _, appt := range stale {
		log := s.log.WithField("appointment_id", appt.ID)

		if appt.DoctorSlotID != nil && !s.settleSlot(ctx, *appt.DoctorSlotID, appt.DoctorID, appt.ID) {
			log.Warn("cannot settle slot for stale pending appointment, retrying later")
			continue
		}

		if _, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Version, StatusPending, StatusFailed); err != nil {
			if errors.Is(err, ErrStaleAppointment) {
				continue
			}
			log.WithError(err).Error("failed to mark stale pending appointment FAILED")
			continue
		}
		failed++
	}

	if failed > 0 {
		s.log.WithField("count", failed).Info("swept stale pending appointments")
	}
	return failed, nil
}

// Helpers

func resolvePatient(caller Caller, requested *uuid.UUID) (uuid.UUID, error) {
	if caller.IsAdmin() {
		if requested == nil || *requested == uuid.Nil {
			return uuid.Nil, apperr.New(apperr.InvalidInput, "patientId is required when booking as admin")
		}
		return *requested, nil
	}
	if caller.Role != RolePatient {
		return uuid.Nil, apperr.New(apperr.Forbidden, "only patients and admins can book appointments")
	}
	if requested != nil && *requested != uuid.Nil && *requested != caller.ID {
		return uuid.Nil, ErrNotYourPatient
	}
	return caller.ID, nil
}

func (s *Service) checkLeadTime(at time.Time, lead time.Duration) error {
	if at.IsZero() {
		return apperr.New(apperr.InvalidInput, "appointmentDateTime is required")
	}
	if at.Before(s.now().Add(lead)) {
		return apperr.Newf(apperr.InvalidInput, "appointment must be at least %s in the future", lead)
	}
	return nil
}

func (s *Service) loadOwned(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && caller.ID != appt.PatientID {
		return nil, ErrAccessDenied
	}
	return appt, nil
}

func canSee(caller Caller, appt *Appointment) bool {
	switch caller.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		return caller.ID == appt.DoctorID
	case RolePatient:
		return caller.ID == appt.PatientID
	}
	return false
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithAppointmentLock(ctx, id, fn)
}

// settleSlot makes sure the appointment no longer holds the slot. It reports
// false only when the ledger could not give an answer.
func (s *Service) settleSlot(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) bool {
	_, err := s.ledger.Release(ctx, slotID, doctorID, appointmentID)
	switch apperr.KindOf(err) {
	case apperr.Conflict, apperr.Forbidden, apperr.NotFound:
		// not held by this appointment
		return true
	default:
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"appointment_id": appointmentID,
				"slot_id":        slotID,
			}).Warn("slot release undecided")
			return false
		}
		return true
	}
}

// markFailed closes a booking attempt. A row that already moved on is left alone.
func (s *Service) markFailed(ctx context.Context, appt *Appointment) {
	_, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Version, StatusPending, StatusFailed)
	if err != nil && !errors.Is(err, ErrStaleAppointment) {
		s.log.WithError(err).WithField("appointment_id", appt.ID).Error("failed to mark appointment FAILED")
	}
}

// releaseQuietly reports whether the slot was freed; failures are logged only.
func (s *Service) releaseQuietly(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) bool {
	if _, err := s.ledger.Release(ctx, slotID, doctorID, appointmentID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"appointment_id": appointmentID,
			"slot_id":        slotID,
			"kind":           apperr.KindOf(err).String(),
		}).Warn("slot release failed, inventory needs reconciliation")
		return false
	}
	return true
}

// lookupPatient and lookupDoctor enrich events; a miss leaves display fields empty.
func (s *Service) lookupPatient(ctx context.Context, id uuid.UUID) Patient {
	p, err := s.patients.GetPatient(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("patient_id", id).Warn("patient lookup for event failed")
		return Patient{ID: id}
	}
	return *p
}

func (s *Service) lookupDoctor(ctx context.Context, id uuid.UUID) Doctor {
	d, err := s.doctors.GetDoctor(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("doctor_id", id).Warn("doctor lookup for event failed")
		return Doctor{ID: id}
	}
	return *d
}

func slotOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
