package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps the ledger in process. It backs the inventory
// server when INVENTORY_STORE=memory and the ledger tests; a single mutex
// gives ReserveSlot/ReleaseSlot the same compare-and-set guarantees as the
// conditional UPDATEs in PgRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]Doctor
	slots   map[uuid.UUID]Slot
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors: make(map[uuid.UUID]Doctor),
		slots:   make(map[uuid.UUID]Slot),
	}
}

func (m *MemoryRepository) PutDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryRepository) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) GetSlot(_ context.Context, slotID, doctorID uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok || s.DoctorID != doctorID {
		return nil, ErrSlotNotFound
	}
	return copySlot(s), nil
}

func (m *MemoryRepository) ReserveSlot(_ context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok || s.DoctorID != doctorID {
		return nil, false, nil
	}
	if s.Reserved && !s.ReservedBy(appointmentID) {
		return nil, false, nil
	}
	if !s.Reserved {
		id := appointmentID
		s.Reserved = true
		s.AppointmentID = &id
		s.UpdatedAt = time.Now()
		m.slots[slotID] = s
	}
	return copySlot(s), true, nil
}

func (m *MemoryRepository) ReleaseSlot(_ context.Context, slotID, doctorID, appointmentID uuid.UUID) (*Slot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok || s.DoctorID != doctorID || !s.ReservedBy(appointmentID) {
		return nil, false, nil
	}
	s.Reserved = false
	s.AppointmentID = nil
	s.UpdatedAt = time.Now()
	m.slots[slotID] = s
	return copySlot(s), true, nil
}

func (m *MemoryRepository) ListSlotsInRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return m.filter(func(s Slot) bool {
		return s.DoctorID == doctorID && s.overlaps(from, to)
	}), nil
}

func (m *MemoryRepository) ListAvailableSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return m.filter(func(s Slot) bool {
		return s.DoctorID == doctorID && !s.Reserved && !s.StartTime.Before(from) && s.StartTime.Before(to)
	}), nil
}

func (m *MemoryRepository) InsertSlots(_ context.Context, slots []Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range slots {
		for _, s := range m.slots {
			if s.DoctorID == n.DoctorID && s.StartTime.Equal(n.StartTime) && s.EndTime.Equal(n.EndTime) {
				return ErrSlotOverlap
			}
		}
	}

	now := time.Now()
	for _, n := range slots {
		n.Reserved = false
		n.AppointmentID = nil
		n.CreatedAt = now
		n.UpdatedAt = now
		m.slots[n.ID] = n
	}
	return nil
}

func (m *MemoryRepository) filter(keep func(Slot) bool) []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Slot
	for _, s := range m.slots {
		if keep(s) {
			out = append(out, *copySlot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func copySlot(s Slot) *Slot {
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		s.AppointmentID = &id
	}
	return &s
}
