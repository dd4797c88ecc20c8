package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/inventory"
)

type harness struct {
	svc       *Service
	repo      *memRepo
	slots     *inventory.MemoryRepository
	ledger    *faultyLedger
	publisher *recordingPublisher

	patient  Caller
	admin    Caller
	doctorID uuid.UUID
	doctor   Caller
	slot1    uuid.UUID
	slot2    uuid.UUID
	base     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	slots := inventory.NewMemoryRepository()
	doctorID := uuid.New()
	slots.PutDoctor(inventory.Doctor{
		ID:              doctorID,
		FirstName:       "Anil",
		LastName:        "Kapoor",
		Specialization:  "Dermatology",
		Email:           "anil@example.com",
		ConsultationFee: 120,
		Status:          inventory.DoctorActive,
	})

	base := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	s1 := inventory.Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: base, EndTime: base.Add(30 * time.Minute)}
	s2 := inventory.Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: base.Add(2 * time.Hour), EndTime: base.Add(150 * time.Minute)}
	if err := slots.InsertSlots(context.Background(), []inventory.Slot{s1, s2}); err != nil {
		t.Fatalf("insert slots: %v", err)
	}

	patientID := uuid.New()
	inactiveID := uuid.New()
	patients := stubPatients{
		patientID:  {ID: patientID, Name: "Riya Sen", Email: "riya@example.com", Status: PatientActive},
		inactiveID: {ID: inactiveID, Name: "Old Account", Email: "old@example.com", Status: "INACTIVE"},
	}
	doctors := stubDoctors{
		doctorID: {ID: doctorID, Name: "Anil Kapoor", Specialization: "Dermatology", ConsultationFee: 120},
	}

	repo := newMemRepo()
	ledger := &faultyLedger{inner: inventory.NewLedger(slots, quietLog()), failRelease: map[uuid.UUID]error{}}
	pub := &recordingPublisher{}

	svc := NewService(repo, ledger, patients, doctors, pub, nil, Policy{
		BookingLeadTime:    15 * time.Minute,
		RescheduleLeadTime: 30 * time.Minute,
		CancellationWindow: time.Hour,
		PendingStaleAfter:  5 * time.Minute,
		Currency:           "USD",
	}, quietLog())

	return &harness{
		svc:       svc,
		repo:      repo,
		slots:     slots,
		ledger:    ledger,
		publisher: pub,
		patient:   Caller{ID: patientID, Role: RolePatient},
		admin:     Caller{ID: uuid.New(), Role: RoleAdmin},
		doctorID:  doctorID,
		doctor:    Caller{ID: doctorID, Role: RoleDoctor},
		slot1:     s1.ID,
		slot2:     s2.ID,
		base:      base,
	}
}

func (h *harness) book(t *testing.T, slotID uuid.UUID, at time.Time) *Appointment {
	t.Helper()
	appt, err := h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: slotID, AppointmentDateTime: at})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func (h *harness) slot(t *testing.T, id uuid.UUID) *inventory.Slot {
	t.Helper()
	s, err := h.slots.GetSlot(context.Background(), id, h.doctorID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if s.Reserved != (s.AppointmentID != nil) {
		t.Fatalf("reservation invariant broken on slot %s", id)
	}
	return s
}

func (h *harness) stored(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := h.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	return a
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestBookSchedulesAndPublishes(t *testing.T) {
	h := newHarness(t)

	appt := h.book(t, h.slot1, h.base)

	if appt.Status != StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", appt.Status)
	}
	if appt.DoctorSlotID == nil || *appt.DoctorSlotID != h.slot1 {
		t.Fatal("appointment should point at the reserved slot")
	}
	if !h.slot(t, h.slot1).ReservedBy(appt.ID) {
		t.Fatal("slot should be reserved by the appointment")
	}

	ev := h.publisher.last()
	if ev.topic != events.TopicBooked || ev.key != appt.ID.String() {
		t.Fatalf("unexpected event %s/%s", ev.topic, ev.key)
	}
	booked, ok := ev.payload.(events.Booked)
	if !ok {
		t.Fatalf("unexpected payload %T", ev.payload)
	}
	if booked.EstimatedFeeAmount != 120 || booked.PatientEmail != "riya@example.com" || booked.DoctorName != "Anil Kapoor" {
		t.Fatalf("event not enriched: %+v", booked)
	}
	if booked.Version != appt.Version {
		t.Fatalf("event version %d, appointment version %d", booked.Version, appt.Version)
	}
}

func TestBookReserveFailureLeavesFailedAndSlotFree(t *testing.T) {
	h := newHarness(t)
	h.ledger.failReserve = apperr.New(apperr.UpstreamUnavailable, "inventory unreachable")

	_, err := h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
	expectKind(t, err, apperr.UpstreamUnavailable)

	all := h.repo.rows
	if len(all) != 1 {
		t.Fatalf("expected the attempt to be kept, got %d rows", len(all))
	}
	for _, a := range all {
		if a.Status != StatusFailed {
			t.Fatalf("expected FAILED, got %s", a.Status)
		}
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("slot must remain free")
	}
	if len(h.publisher.topics()) != 0 {
		t.Fatal("no event on failure")
	}
}

func (h *harness) onlyRow(t *testing.T) Appointment {
	t.Helper()
	h.repo.mu.Lock()
	defer h.repo.mu.Unlock()
	if len(h.repo.rows) != 1 {
		t.Fatalf("expected one appointment row, got %d", len(h.repo.rows))
	}
	for _, a := range h.repo.rows {
		return a
	}
	return Appointment{}
}

func TestBookIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.ledger.reserveDelay = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	appt, err := h.svc.Book(ctx, h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", appt.Status)
	}
	s := h.slot(t, h.slot1)
	if !s.ReservedBy(appt.ID) {
		t.Fatal("slot should be held by the booked appointment")
	}
}

func TestBookLostReserveReplyReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.ledger.lostReply = apperr.New(apperr.UpstreamUnavailable, "read timeout")

	_, err := h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
	expectKind(t, err, apperr.UpstreamUnavailable)

	if got := h.onlyRow(t).Status; got != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("a FAILED booking must not keep the slot")
	}
}

func TestBookLostReplyWithLedgerDownStaysPending(t *testing.T) {
	h := newHarness(t)
	h.ledger.lostReply = apperr.New(apperr.UpstreamUnavailable, "read timeout")
	h.ledger.failRelease[h.slot1] = apperr.New(apperr.UpstreamUnavailable, "down")

	_, err := h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
	expectKind(t, err, apperr.UpstreamUnavailable)

	row := h.onlyRow(t)
	if row.Status != StatusPending {
		t.Fatalf("expected PENDING for the sweep, got %s", row.Status)
	}
	if !h.slot(t, h.slot1).ReservedBy(row.ID) {
		t.Fatal("slot should still point at the pending appointment")
	}
}

func TestBookConfirmWriteFailureEndsFailed(t *testing.T) {
	h := newHarness(t)
	h.repo.failTo = map[AppointmentStatus]error{StatusScheduled: errors.New("connection reset")}

	if _, err := h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base}); err == nil {
		t.Fatal("expected error")
	}

	if got := h.onlyRow(t).Status; got != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("slot must be given back")
	}
	if len(h.publisher.topics()) != 0 {
		t.Fatal("no event on failure")
	}
}

func TestBookRejectsBeforeAnySideEffect(t *testing.T) {
	h := newHarness(t)
	other := uuid.New()

	cases := []struct {
		name   string
		caller Caller
		req    BookRequest
		kind   apperr.Kind
	}{
		{"too soon", h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: time.Now().Add(5 * time.Minute)}, apperr.InvalidInput},
		{"missing slot", h.patient, BookRequest{DoctorID: h.doctorID, AppointmentDateTime: h.base}, apperr.InvalidInput},
		{"missing time", h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1}, apperr.InvalidInput},
		{"patient for someone else", h.patient, BookRequest{PatientID: &other, DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base}, apperr.Forbidden},
		{"admin without patient", h.admin, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base}, apperr.InvalidInput},
		{"unknown patient", h.admin, BookRequest{PatientID: &other, DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base}, apperr.NotFound},
		{"doctor cannot book", h.doctor, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base}, apperr.Forbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Book(context.Background(), tc.caller, tc.req)
			expectKind(t, err, tc.kind)
		})
	}

	if len(h.repo.rows) != 0 {
		t.Fatalf("rejected bookings must not persist, got %d rows", len(h.repo.rows))
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("slot must remain free")
	}
}

func TestBookInactivePatientRejected(t *testing.T) {
	h := newHarness(t)

	var inactive uuid.UUID
	for id, p := range h.svc.patients.(stubPatients) {
		if p.Status != PatientActive {
			inactive = id
		}
	}

	_, err := h.svc.Book(context.Background(), h.admin, BookRequest{PatientID: &inactive, DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
	if !errors.Is(err, ErrPatientInactive) {
		t.Fatalf("expected ErrPatientInactive, got %v", err)
	}
	if len(h.repo.rows) != 0 {
		t.Fatal("no appointment should be created")
	}
}

func TestConcurrentBookSameSlotOneWinner(t *testing.T) {
	h := newHarness(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Book(context.Background(), h.patient, BookRequest{DoctorID: h.doctorID, SlotID: h.slot1, AppointmentDateTime: h.base})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		expectKind(t, err, apperr.Conflict)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	scheduled, failed := 0, 0
	for _, a := range h.repo.rows {
		switch a.Status {
		case StatusScheduled:
			scheduled++
			if !h.slot(t, h.slot1).ReservedBy(a.ID) {
				t.Fatal("winner must hold the slot")
			}
		case StatusFailed:
			failed++
		}
	}
	if scheduled != 1 || failed != n-1 {
		t.Fatalf("expected 1 scheduled and %d failed, got %d/%d", n-1, scheduled, failed)
	}
}

func TestBookThenCancelFreesSlot(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	canceled, err := h.svc.Cancel(context.Background(), h.patient, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.Status)
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("slot should be free after cancel")
	}

	ev := h.publisher.last()
	payload, ok := ev.payload.(events.Canceled)
	if ev.topic != events.TopicCanceled || !ok || !payload.SlotReleased {
		t.Fatalf("unexpected cancel event %+v", ev)
	}

	_, err = h.svc.Cancel(context.Background(), h.patient, appt.ID)
	if !errors.Is(err, ErrAlreadyCanceled) {
		t.Fatalf("second cancel: expected already canceled, got %v", err)
	}
}

func TestCancelReleaseFailureStillCancels(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)
	h.ledger.failRelease[h.slot1] = apperr.New(apperr.UpstreamUnavailable, "timeout")

	canceled, err := h.svc.Cancel(context.Background(), h.patient, appt.ID)
	if err != nil {
		t.Fatalf("cancel must succeed despite release failure: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.Status)
	}
	if payload := h.publisher.last().payload.(events.Canceled); payload.SlotReleased {
		t.Fatal("event should record that the slot was not released")
	}
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	stranger := Caller{ID: uuid.New(), Role: RolePatient}
	_, err := h.svc.Cancel(context.Background(), stranger, appt.ID)
	expectKind(t, err, apperr.Forbidden)

	_, err = h.svc.Cancel(context.Background(), h.patient, uuid.New())
	expectKind(t, err, apperr.NotFound)

	h.svc.now = func() time.Time { return h.base.Add(-30 * time.Minute) }
	_, err = h.svc.Cancel(context.Background(), h.patient, appt.ID)
	expectKind(t, err, apperr.InvalidInput)

	if h.stored(t, appt.ID).Status != StatusScheduled {
		t.Fatal("rejected cancel must not change the appointment")
	}
}

func TestRescheduleMovesReservation(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	newTime := h.base.Add(2 * time.Hour)
	moved, err := h.svc.Reschedule(context.Background(), h.patient, appt.ID, RescheduleRequest{SlotID: h.slot2, AppointmentDateTime: newTime})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if moved.Status != StatusRescheduled || *moved.DoctorSlotID != h.slot2 || !moved.AppointmentDateTime.Equal(newTime) {
		t.Fatalf("unexpected appointment after reschedule: %+v", moved)
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("old slot should be free")
	}
	if !h.slot(t, h.slot2).ReservedBy(appt.ID) {
		t.Fatal("new slot should be reserved by the appointment")
	}

	ev := h.publisher.last()
	payload, ok := ev.payload.(events.Rescheduled)
	if !ok || payload.OldSlotID != h.slot1 || payload.SlotID != h.slot2 || !payload.OldSlotReleased {
		t.Fatalf("unexpected reschedule event %+v", ev.payload)
	}
}

func TestRescheduleOldReleaseFailureKeepsNewSlot(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)
	h.ledger.failRelease[h.slot1] = apperr.New(apperr.UpstreamUnavailable, "inventory down")

	moved, err := h.svc.Reschedule(context.Background(), h.patient, appt.ID, RescheduleRequest{SlotID: h.slot2, AppointmentDateTime: h.base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("reschedule should succeed: %v", err)
	}
	if moved.Status != StatusRescheduled || *moved.DoctorSlotID != h.slot2 {
		t.Fatalf("appointment should be bound to the new slot: %+v", moved)
	}
	if !h.slot(t, h.slot1).ReservedBy(appt.ID) {
		t.Fatal("old slot stays reserved when its release fails")
	}
	if !h.slot(t, h.slot2).ReservedBy(appt.ID) {
		t.Fatal("new slot should be reserved")
	}
}

func TestRescheduleReserveFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	// someone else holds slot2
	if _, err := h.ledger.inner.Reserve(context.Background(), h.slot2, h.doctorID, uuid.New()); err != nil {
		t.Fatalf("pre-reserve: %v", err)
	}

	_, err := h.svc.Reschedule(context.Background(), h.patient, appt.ID, RescheduleRequest{SlotID: h.slot2, AppointmentDateTime: h.base.Add(2 * time.Hour)})
	expectKind(t, err, apperr.Conflict)

	got := h.stored(t, appt.ID)
	if got.Status != StatusScheduled || *got.DoctorSlotID != h.slot1 || got.Version != appt.Version {
		t.Fatalf("appointment must be untouched: %+v", got)
	}
	if !h.slot(t, h.slot1).ReservedBy(appt.ID) {
		t.Fatal("old reservation must still be valid")
	}
}

func TestRescheduleSameSlotUpdatesTime(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)
	releases := h.ledger.releaseCalls

	newTime := h.base.Add(10 * time.Minute)
	moved, err := h.svc.Reschedule(context.Background(), h.patient, appt.ID, RescheduleRequest{SlotID: h.slot1, AppointmentDateTime: newTime})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.AppointmentDateTime.Equal(newTime) || moved.Status != StatusRescheduled {
		t.Fatalf("unexpected appointment: %+v", moved)
	}
	if !h.slot(t, h.slot1).ReservedBy(appt.ID) {
		t.Fatal("slot must remain reserved")
	}
	if h.ledger.releaseCalls != releases {
		t.Fatal("same-slot reschedule must not release")
	}
}

func TestRescheduleRejectsShortLeadTime(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	_, err := h.svc.Reschedule(context.Background(), h.patient, appt.ID, RescheduleRequest{SlotID: h.slot2, AppointmentDateTime: time.Now().Add(20 * time.Minute)})
	expectKind(t, err, apperr.InvalidInput)
	if h.slot(t, h.slot2).Reserved {
		t.Fatal("no reservation on rejected reschedule")
	}
}

func TestCompletePublishesFee(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	_, err := h.svc.Complete(context.Background(), h.patient, appt.ID)
	expectKind(t, err, apperr.Forbidden)

	done, err := h.svc.Complete(context.Background(), h.doctor, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}

	payload, ok := h.publisher.last().payload.(events.Completed)
	if !ok || payload.BaseFeeAmount != 120 || payload.Currency != "USD" {
		t.Fatalf("unexpected completed event %+v", payload)
	}

	_, err = h.svc.Complete(context.Background(), h.admin, appt.ID)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
	_, err = h.svc.Cancel(context.Background(), h.admin, appt.ID)
	expectKind(t, err, apperr.Conflict)
}

func TestCompleteRejectsMissingFee(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, h.slot1, h.base)

	h.svc.doctors = stubDoctors{h.doctorID: {ID: h.doctorID, Name: "Anil Kapoor", ConsultationFee: 0}}

	_, err := h.svc.Complete(context.Background(), h.admin, appt.ID)
	if !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if h.stored(t, appt.ID).Status != StatusScheduled {
		t.Fatal("appointment must stay scheduled")
	}
}

func TestGetAndListVisibility(t *testing.T) {
	h := newHarness(t)
	kept := h.book(t, h.slot1, h.base)
	dropped := h.book(t, h.slot2, h.base.Add(2*time.Hour))
	if _, err := h.svc.Cancel(context.Background(), h.patient, dropped.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stranger := Caller{ID: uuid.New(), Role: RolePatient}
	_, err := h.svc.Get(context.Background(), stranger, kept.ID)
	expectKind(t, err, apperr.Forbidden)

	if _, err := h.svc.Get(context.Background(), h.doctor, kept.ID); err != nil {
		t.Fatalf("doctor should see own appointment: %v", err)
	}

	for _, c := range []Caller{h.patient, h.doctor, h.admin} {
		list, err := h.svc.List(context.Background(), c, Page{})
		if err != nil {
			t.Fatalf("list as %s: %v", c.Role, err)
		}
		if len(list) != 1 || list[0].ID != kept.ID {
			t.Fatalf("list as %s: expected only the active appointment, got %d", c.Role, len(list))
		}
	}

	list, err := h.svc.List(context.Background(), stranger, Page{})
	if err != nil || len(list) != 0 {
		t.Fatalf("stranger should see nothing, got %d (%v)", len(list), err)
	}
}

func TestSweepStalePending(t *testing.T) {
	h := newHarness(t)

	// A crashed booking that did reserve, and one that never reached the ledger.
	reserved, _ := h.repo.Create(context.Background(), &Appointment{ID: uuid.New(), PatientID: h.patient.ID, DoctorID: h.doctorID, DoctorSlotID: &h.slot1, AppointmentDateTime: h.base, Status: StatusPending})
	if _, err := h.ledger.inner.Reserve(context.Background(), h.slot1, h.doctorID, reserved.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	orphan, _ := h.repo.Create(context.Background(), &Appointment{ID: uuid.New(), PatientID: h.patient.ID, DoctorID: h.doctorID, DoctorSlotID: &h.slot2, AppointmentDateTime: h.base, Status: StatusPending})

	h.svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	n, err := h.svc.SweepStalePending(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}
	for _, id := range []uuid.UUID{reserved.ID, orphan.ID} {
		if got := h.stored(t, id).Status; got != StatusFailed {
			t.Fatalf("expected FAILED, got %s", got)
		}
	}
	if h.slot(t, h.slot1).Reserved {
		t.Fatal("slot held by the crashed booking should be released")
	}
}

func TestSweepSkipsWhenLedgerUnreachable(t *testing.T) {
	h := newHarness(t)
	pending, _ := h.repo.Create(context.Background(), &Appointment{ID: uuid.New(), PatientID: h.patient.ID, DoctorID: h.doctorID, DoctorSlotID: &h.slot1, AppointmentDateTime: h.base, Status: StatusPending})
	h.ledger.failRelease[h.slot1] = apperr.New(apperr.UpstreamUnavailable, "down")
	h.svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	n, err := h.svc.SweepStalePending(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 || h.stored(t, pending.ID).Status != StatusPending {
		t.Fatal("appointment should wait for the next sweep")
	}
}
