package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

// Ledger owns slot reservations for the doctor-inventory service.
type Ledger struct {
	repo Repository
	log  *logrus.Entry
	now  func() time.Time
}

func NewLedger(repo Repository, log *logrus.Entry) *Ledger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{repo: repo, log: log.WithField("component", "slot_ledger"), now: time.Now}
}

// Reserve binds a slot to an appointment. Reserving a slot the appointment
// already holds succeeds without changing it, so callers may retry freely.
func (l *Ledger) Reserve(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*SlotView, error) {
	if err := requireIDs(slotID, doctorID, appointmentID); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"slot_id": slotID, "doctor_id": doctorID, "appointment_id": appointmentID}

	// Two attempts: the slot can be released between a failed CAS and the
	// classifying read, in which case it is worth one more try.
	for attempt := 0; attempt < 2; attempt++ {
		slot, ok, err := l.repo.ReserveSlot(ctx, slotID, doctorID, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("reserve slot: %w", err)
		}
		if ok {
			l.log.WithFields(fields).Info("slot reserved")
			v := slot.View()
			return &v, nil
		}

		current, err := l.repo.GetSlot(ctx, slotID, doctorID)
		if err != nil {
			return nil, fmt.Errorf("load slot: %w", err)
		}
		if current.ReservedBy(appointmentID) {
			v := current.View()
			return &v, nil
		}
		if current.Reserved {
			l.log.WithFields(fields).WithField("held_by", current.AppointmentID).Warn("reserve rejected, slot held by another appointment")
			return nil, ErrSlotHeldByOther
		}
	}

	return nil, ErrSlotHeldByOther
}

// Release frees a slot, but only for the appointment that holds it.
func (l *Ledger) Release(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*SlotView, error) {
	if err := requireIDs(slotID, doctorID, appointmentID); err != nil {
		return nil, err
	}

	slot, ok, err := l.repo.ReleaseSlot(ctx, slotID, doctorID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}
	if ok {
		l.log.WithFields(logrus.Fields{"slot_id": slotID, "appointment_id": appointmentID}).Info("slot released")
		v := slot.View()
		return &v, nil
	}

	current, err := l.repo.GetSlot(ctx, slotID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if !current.Reserved {
		return nil, ErrSlotNotReserved
	}
	l.log.WithFields(logrus.Fields{
		"slot_id":        slotID,
		"appointment_id": appointmentID,
		"held_by":        current.AppointmentID,
	}).Warn("release rejected, appointment does not hold the slot")
	return nil, ErrReleaseForbidden
}

func (l *Ledger) GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorView, error) {
	d, err := l.repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	v := d.View()
	return &v, nil
}

func (l *Ledger) activeDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := l.repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	if d.Status != DoctorActive {
		return nil, ErrDoctorInactive
	}
	return d, nil
}

// CreateSlot adds a single free slot after checking it does not overlap any
// existing slot of the doctor.
func (l *Ledger) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*SlotView, error) {
	if !end.After(start) {
		return nil, apperr.New(apperr.InvalidInput, "slot end time must be after start time")
	}
	if _, err := l.activeDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	existing, err := l.repo.ListSlotsInRange(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check overlapping slots: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrSlotOverlap
	}

	slot := Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: start.UTC(), EndTime: end.UTC()}
	if err := l.repo.InsertSlots(ctx, []Slot{slot}); err != nil {
		return nil, err
	}
	v := slot.View()
	return &v, nil
}

type GenerateRequest struct {
	From     time.Time     // first day, time of day ignored
	To       time.Time     // last day inclusive
	DayStart time.Duration // offset from midnight
	DayEnd   time.Duration // offset from midnight
	Length   time.Duration
}

// GenerateSlots lays out back-to-back slots for every day in the range.
// Windows that collide with existing slots are skipped rather than failing
// the whole batch.
func (l *Ledger) GenerateSlots(ctx context.Context, doctorID uuid.UUID, req GenerateRequest) ([]SlotView, error) {
	if req.Length <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "slot duration must be positive")
	}
	if req.DayEnd <= req.DayStart {
		return nil, apperr.New(apperr.InvalidInput, "day end must be after day start")
	}
	if req.To.Before(req.From) {
		return nil, apperr.New(apperr.InvalidInput, "end date must not be before start date")
	}
	if _, err := l.activeDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	first := truncateDay(req.From)
	last := truncateDay(req.To)

	existing, err := l.repo.ListSlotsInRange(ctx, doctorID, first, last.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load existing slots: %w", err)
	}

	var created []Slot
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		closing := day.Add(req.DayEnd)
		for start := day.Add(req.DayStart); !start.Add(req.Length).After(closing); start = start.Add(req.Length) {
			end := start.Add(req.Length)
			if collides(existing, start, end) {
				continue
			}
			created = append(created, Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: start, EndTime: end})
		}
	}

	if len(created) > 0 {
		if err := l.repo.InsertSlots(ctx, created); err != nil {
			return nil, err
		}
	}

	l.log.WithFields(logrus.Fields{"doctor_id": doctorID, "count": len(created)}).Info("slots generated")

	views := make([]SlotView, 0, len(created))
	for _, s := range created {
		views = append(views, s.View())
	}
	return views, nil
}

// AvailableSlots lists free slots for a doctor on the given day that have not started yet.
func (l *Ledger) AvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]SlotView, error) {
	if _, err := l.activeDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	from := truncateDay(day)
	to := from.AddDate(0, 0, 1)
	if now := l.now(); now.After(from) {
		from = now
	}

	slots, err := l.repo.ListAvailableSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	views := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, s.View())
	}
	return views, nil
}

func requireIDs(slotID, doctorID, appointmentID uuid.UUID) error {
	switch {
	case slotID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "slot id is required")
	case doctorID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "doctor id is required")
	case appointmentID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "appointment id is required")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func collides(slots []Slot, start, end time.Time) bool {
	for _, s := range slots {
		if s.overlaps(start, end) {
			return true
		}
	}
	return false
}
