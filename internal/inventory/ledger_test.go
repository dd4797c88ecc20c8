package inventory

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fixture struct {
	repo   *MemoryRepository
	ledger *Ledger
	doctor Doctor
	slot   Slot
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	repo := NewMemoryRepository()
	doctor := Doctor{
		ID:              uuid.New(),
		FirstName:       "Meera",
		LastName:        "Rao",
		Specialization:  "Cardiology",
		Email:           "meera.rao@example.com",
		ConsultationFee: 80,
		Status:          DoctorActive,
	}
	repo.PutDoctor(doctor)

	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	slot := Slot{ID: uuid.New(), DoctorID: doctor.ID, StartTime: start, EndTime: start.Add(30 * time.Minute)}
	if err := repo.InsertSlots(context.Background(), []Slot{slot}); err != nil {
		t.Fatalf("insert slot: %v", err)
	}

	return fixture{repo: repo, ledger: NewLedger(repo, quietLog()), doctor: doctor, slot: slot}
}

func (f fixture) current(t *testing.T) *Slot {
	t.Helper()
	s, err := f.repo.GetSlot(context.Background(), f.slot.ID, f.doctor.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if s.Reserved != (s.AppointmentID != nil) {
		t.Fatalf("reservation invariant broken: reserved=%v appointment=%v", s.Reserved, s.AppointmentID)
	}
	return s
}

func TestReserveIsIdempotentForSameAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := uuid.New()

	first, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, appt)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, appt)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	if !first.Reserved || !second.Reserved {
		t.Fatal("expected both results to report the slot reserved")
	}
	if *first.AppointmentID != appt || *second.AppointmentID != appt {
		t.Fatal("expected slot to be held by the appointment")
	}
	if s := f.current(t); !s.ReservedBy(appt) {
		t.Fatalf("slot not held by appointment after retries: %+v", s)
	}
}

func TestReserveHeldByOtherIsConflictAndDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, owner); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	before := f.current(t)

	_, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, uuid.New())
	if !errors.Is(err, ErrSlotHeldByOther) || apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	after := f.current(t)
	if !after.ReservedBy(owner) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("slot mutated by rejected reserve: before=%+v after=%+v", before, after)
	}
}

func TestReserveWrongDoctorIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Reserve(context.Background(), f.slot.ID, uuid.New(), uuid.New())
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.current(t).Reserved {
		t.Fatal("slot must stay free")
	}
}

func TestReserveRejectsMissingIDs(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Reserve(context.Background(), f.slot.ID, f.doctor.ID, uuid.Nil)
	if apperr.KindOf(err) != apperr.InvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReleaseByNonOwnerIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, owner); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := f.ledger.Release(ctx, f.slot.ID, f.doctor.ID, uuid.New())
	if !errors.Is(err, ErrReleaseForbidden) || apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !f.current(t).ReservedBy(owner) {
		t.Fatal("slot mutated by rejected release")
	}
}

func TestReleaseFreeSlotIsConflict(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Release(context.Background(), f.slot.ID, f.doctor.ID, uuid.New())
	if !errors.Is(err, ErrSlotNotReserved) {
		t.Fatalf("expected already free conflict, got %v", err)
	}
}

func TestReleaseByOwnerFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, owner); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	view, err := f.ledger.Release(ctx, f.slot.ID, f.doctor.ID, owner)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if view.Reserved || view.AppointmentID != nil {
		t.Fatalf("expected free slot view, got %+v", view)
	}
	if f.current(t).Reserved {
		t.Fatal("slot still reserved")
	}
}

func TestConcurrentReserveHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const contenders = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appt := uuid.New()
			_, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, appt)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, appt)
			case apperr.KindOf(err) == apperr.Conflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 || conflicts != contenders-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d winners and %d conflicts", contenders-1, len(winners), conflicts)
	}
	if !f.current(t).ReservedBy(winners[0]) {
		t.Fatal("slot not held by the winner")
	}
}

func TestCreateSlotRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateSlot(ctx, f.doctor.ID, f.slot.StartTime.Add(10*time.Minute), f.slot.EndTime.Add(10*time.Minute))
	if !errors.Is(err, ErrSlotOverlap) {
		t.Fatalf("expected overlap, got %v", err)
	}

	view, err := f.ledger.CreateSlot(ctx, f.doctor.ID, f.slot.EndTime, f.slot.EndTime.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("adjacent slot should be accepted: %v", err)
	}
	if view.Reserved {
		t.Fatal("new slots start free")
	}
}

func TestCreateSlotInactiveDoctor(t *testing.T) {
	f := newFixture(t)
	inactive := f.doctor
	inactive.ID = uuid.New()
	inactive.Status = DoctorInactive
	f.repo.PutDoctor(inactive)

	start := time.Now().Add(72 * time.Hour)
	_, err := f.ledger.CreateSlot(context.Background(), inactive.ID, start, start.Add(time.Hour))
	if !errors.Is(err, ErrDoctorInactive) {
		t.Fatalf("expected inactive doctor error, got %v", err)
	}
}

func TestGenerateSlotsSkipsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	day := truncateDay(f.slot.StartTime)
	offset := f.slot.StartTime.Sub(day)

	views, err := f.ledger.GenerateSlots(ctx, f.doctor.ID, GenerateRequest{
		From:     day,
		To:       day.AddDate(0, 0, 1),
		DayStart: offset,
		DayEnd:   offset + 2*time.Hour,
		Length:   30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// 4 windows per day over 2 days, minus the one already present.
	if len(views) != 7 {
		t.Fatalf("expected 7 generated slots, got %d", len(views))
	}
}

func TestAvailableSlotsExcludesReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extra, err := f.ledger.CreateSlot(ctx, f.doctor.ID, f.slot.EndTime, f.slot.EndTime.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.ledger.Reserve(ctx, f.slot.ID, f.doctor.ID, uuid.New()); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	views, err := f.ledger.AvailableSlots(ctx, f.doctor.ID, f.slot.StartTime)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(views) != 1 || views[0].ID != extra.ID {
		t.Fatalf("expected only the free slot, got %+v", views)
	}
}
