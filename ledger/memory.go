package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"parking-admission/inventory"

	"github.com/google/uuid"
)

// Memory is an in-process Ledger used when no database is configured.
type Memory struct {
	mu         sync.RWMutex
	bookings   map[string]*Booking
	entries    []*Entry
	detections []Detection
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[string]*Booking),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) GetBookingByPlate(ctx context.Context, plate string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[plate]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (m *Memory) CreateBooking(ctx context.Context, plate, model string, size inventory.SizeClass, slotID *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[plate] = &Booking{
		Plate:     plate,
		Model:     model,
		Size:      size,
		SlotID:    copyInt(slotID),
		Status:    BookingPending,
		CreatedAt: m.now(),
	}
	return nil
}

func (m *Memory) MarkBookingAssigned(ctx context.Context, plate string, slotID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[plate]
	if !ok {
		return ErrNotFound
	}
	b.SlotID = &slotID
	b.Status = BookingAssigned
	return nil
}

func (m *Memory) MarkEntry(ctx context.Context, e Entry) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open := m.openLocked(e.Plate); open != nil {
		m.enterBookingLocked(open.Plate, open.SlotID)
		return *open, false, nil
	}
	e.ID = uuid.NewString()
	e.EnteredAt = m.now()
	e.ExitedAt = nil
	m.entries = append(m.entries, &e)
	m.enterBookingLocked(e.Plate, e.SlotID)
	return e, true, nil
}

func (m *Memory) enterBookingLocked(plate string, slotID int) {
	if b, ok := m.bookings[plate]; ok {
		b.SlotID = &slotID
		b.Status = BookingEntered
	}
}

func (m *Memory) openLocked(plate string) *Entry {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if en := m.entries[i]; en.Plate == plate && en.ExitedAt == nil {
			return en
		}
	}
	return nil
}

func (m *Memory) OpenEntry(ctx context.Context, plate string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	open := m.openLocked(plate)
	if open == nil {
		return nil, ErrNotFound
	}
	cp := *open
	return &cp, nil
}

func (m *Memory) MarkExit(ctx context.Context, plate string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.openLocked(plate)
	if open == nil {
		return nil, ErrNotFound
	}
	at := m.now()
	open.ExitedAt = &at
	if b, ok := m.bookings[plate]; ok {
		b.Status = BookingExited
	}
	cp := *open
	return &cp, nil
}

func (m *Memory) OccupancyCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.ExitedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PendingBookingCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bookings {
		if b.Status == BookingPending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LogDetection(ctx context.Context, plate, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = append(m.detections, Detection{Plate: plate, Source: source, DetectedAt: m.now()})
	return nil
}

func (m *Memory) RecentDetections(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Detection, 0, min(limit, len(m.detections)))
	for i := len(m.detections) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.detections[i])
	}
	return out, nil
}

func (m *Memory) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.entries[i])
	}
	return out, nil
}

// RecentBookings returns bookings newest first.
func (m *Memory) RecentBookings(ctx context.Context, limit int) ([]Booking, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	out := make([]Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, *copyBooking(b))
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Booking) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Plate, b.Plate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for plate, b := range m.bookings {
		if b.Status == BookingPending && b.SlotID == nil && b.CreatedAt.Before(before) {
			delete(m.bookings, plate)
			n++
		}
	}
	return n, nil
}

func copyBooking(b *Booking) *Booking {
	cp := *b
	cp.SlotID = copyInt(b.SlotID)
	return &cp
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
