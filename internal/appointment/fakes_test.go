package appointment

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/inventory"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// memRepo mirrors PgRepository's conditional updates.
type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Appointment
	// failTo fails UpdateStatus calls targeting the given status.
	failTo map[AppointmentStatus]error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]Appointment)}
}

func (r *memRepo) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := *a
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Version = 1
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	r.rows[row.ID] = row
	return &row, nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &row, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, version int, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failTo[to]; err != nil {
		return nil, err
	}
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if row.Version != version || row.Status != from {
		return nil, ErrStaleAppointment
	}
	row.Status = to
	row.Version++
	row.UpdatedAt = time.Now()
	r.rows[id] = row
	return &row, nil
}

func (r *memRepo) Reschedule(_ context.Context, id uuid.UUID, version int, doctorID, slotID uuid.UUID, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if row.Version != version || !row.Status.Active() {
		return nil, ErrStaleAppointment
	}
	row.DoctorID = doctorID
	row.DoctorSlotID = &slotID
	row.AppointmentDateTime = at
	row.Status = StatusRescheduled
	row.Version++
	row.UpdatedAt = time.Now()
	r.rows[id] = row
	return &row, nil
}

func (r *memRepo) list(keep func(Appointment) bool, limit, offset int) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, row := range r.rows {
		if row.Status == StatusCanceled || row.Status == StatusFailed {
			continue
		}
		if keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentDateTime.Before(out[j].AppointmentDateTime) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *memRepo) ListAll(_ context.Context, limit, offset int) ([]Appointment, error) {
	return r.list(func(Appointment) bool { return true }, limit, offset), nil
}

func (r *memRepo) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, row := range r.rows {
		if row.Status == StatusPending && row.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

// faultyLedger wraps the real ledger and fails selected calls.
type faultyLedger struct {
	inner       SlotLedger
	failReserve error
	// lostReply reserves on the inner ledger and then reports this error,
	// like a response lost after the ledger committed.
	lostReply error
	// reserveDelay holds the reply back and gives up when ctx ends, the way
	// an HTTP client does.
	reserveDelay time.Duration
	failRelease  map[uuid.UUID]error
	releaseCalls int
	mu           sync.Mutex
}

func (l *faultyLedger) Reserve(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error) {
	if l.failReserve != nil {
		return nil, l.failReserve
	}
	view, err := l.inner.Reserve(ctx, slotID, doctorID, appointmentID)
	if err != nil {
		return nil, err
	}
	if l.reserveDelay > 0 {
		select {
		case <-time.After(l.reserveDelay):
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.UpstreamUnavailable, ctx.Err(), "inventory service unreachable")
		}
	}
	if l.lostReply != nil {
		return nil, l.lostReply
	}
	return view, nil
}

func (l *faultyLedger) Release(ctx context.Context, slotID, doctorID, appointmentID uuid.UUID) (*inventory.SlotView, error) {
	l.mu.Lock()
	l.releaseCalls++
	err := l.failRelease[slotID]
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.inner.Release(ctx, slotID, doctorID, appointmentID)
}

type stubPatients map[uuid.UUID]Patient

func (p stubPatients) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	pt, ok := p[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "patient not found")
	}
	return &pt, nil
}

type stubDoctors map[uuid.UUID]Doctor

func (d stubDoctors) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	doc, ok := d[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "doctor not found")
	}
	return &doc, nil
}

type published struct {
	topic   string
	key     string
	payload any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload})
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, e := range p.sent {
		out = append(out, e.topic)
	}
	return out
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}
