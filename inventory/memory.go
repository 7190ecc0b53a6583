package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps the slot document in memory behind a single mutex.
// When a path is set every mutation is written back to that JSON file.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[int]*Slot
	path  string
	now   func() time.Time
}

type document struct {
	Slots []documentSlot `json:"slots"`
}

type documentSlot struct {
	ID         int       `json:"id"`
	Size       SizeClass `json:"size"`
	DistanceM  *float64  `json:"distance_m,omitempty"`
	Distance   *float64  `json:"distance,omitempty"`
	Status     Status    `json:"status"`
	ReservedAt time.Time `json:"reserved_at,omitempty"`
}

// NewMemoryStore builds a store from the given slots. Duplicate ids are rejected.
func NewMemoryStore(slots []Slot) (*MemoryStore, error) {
	s := &MemoryStore{slots: make(map[int]*Slot, len(slots)), now: time.Now}
	for _, sl := range slots {
		if err := validateSlot(sl); err != nil {
			return nil, err
		}
		if _, dup := s.slots[sl.ID]; dup {
			return nil, fmt.Errorf("duplicate slot id %d", sl.ID)
		}
		cp := sl
		if cp.Status == "" {
			cp.Status = StatusFree
		}
		s.slots[sl.ID] = &cp
	}
	return s, nil
}

// LoadFile reads a slot document and returns a store that persists back to it.
func LoadFile(path string) (*MemoryStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode inventory %s: %w", path, err)
	}
	slots := make([]Slot, 0, len(doc.Slots))
	for _, ds := range doc.Slots {
		sl := Slot{ID: ds.ID, Size: ds.Size, Status: ds.Status, ReservedAt: ds.ReservedAt}
		// Older documents mark in-flight reservations as "reserved (incoming)".
		if strings.HasPrefix(string(sl.Status), string(StatusReserved)) {
			sl.Status = StatusReserved
		}
		switch {
		case ds.DistanceM != nil:
			sl.Distance = *ds.DistanceM
		case ds.Distance != nil:
			sl.Distance = *ds.Distance
		}
		slots = append(slots, sl)
	}
	s, err := NewMemoryStore(slots)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	s.path = path
	log.Info().Str("path", path).Int("slots", len(slots)).Msg("inventory: loaded slot document")
	return s, nil
}

func validateSlot(sl Slot) error {
	if !sl.Size.Valid() {
		return fmt.Errorf("slot %d: unknown size %q", sl.ID, sl.Size)
	}
	if sl.Distance < 0 {
		return fmt.Errorf("slot %d: negative distance", sl.ID)
	}
	switch sl.Status {
	case "", StatusFree, StatusReserved, StatusOccupied:
	default:
		return fmt.Errorf("slot %d: unknown status %q", sl.ID, sl.Status)
	}
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) ([]Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// snapshotLocked returns the slots ordered by id.
func (s *MemoryStore) snapshotLocked() []Slot {
	out := make([]Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, *sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Get(ctx context.Context, id int) (Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	return *sl, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, id int, accept func(Slot) bool) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(id, accept)
}

func (s *MemoryStore) reserveLocked(id int, accept func(Slot) bool) (Slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return Slot{}, ErrSlotNotFound
	}
	if sl.Status != StatusFree || (accept != nil && !accept(*sl)) {
		return Slot{}, ErrSlotUnavailable
	}
	prev := *sl
	sl.Status = StatusReserved
	sl.ReservedAt = s.now()
	if err := s.flushLocked(); err != nil {
		*sl = prev
		return Slot{}, err
	}
	return *sl, nil
}

func (s *MemoryStore) ReserveChosen(ctx context.Context, choose Chooser) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := choose(s.snapshotLocked())
	if !ok {
		return Slot{}, ErrNoCandidate
	}
	return s.reserveLocked(id, nil)
}

func (s *MemoryStore) Occupy(ctx context.Context, id int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return "", ErrSlotNotFound
	}
	if sl.Status == StatusOccupied {
		return sl.Status, ErrSlotUnavailable
	}
	prev := *sl
	// ReservedAt is kept so a compensating Restore can reinstate the lock as it was.
	sl.Status = StatusOccupied
	if err := s.flushLocked(); err != nil {
		*sl = prev
		return "", err
	}
	return prev.Status, nil
}

func (s *MemoryStore) Restore(ctx context.Context, id int, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	prev := *sl
	sl.Status = status
	// A restored reservation keeps its original timestamp; a zero one stays a
	// document pre-booking that ReleaseStale never sweeps.
	if status != StatusReserved {
		sl.ReservedAt = time.Time{}
	}
	if err := s.flushLocked(); err != nil {
		*sl = prev
		return err
	}
	return nil
}

func (s *MemoryStore) Vacate(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if sl.Status != StatusOccupied {
		return ErrSlotUnavailable
	}
	prev := *sl
	sl.Status = StatusFree
	sl.ReservedAt = time.Time{}
	if err := s.flushLocked(); err != nil {
		*sl = prev
		return err
	}
	return nil
}

func (s *MemoryStore) ReleaseStale(ctx context.Context, olderThan time.Duration) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var released []int
	for id, sl := range s.slots {
		// Reservations without a timestamp come from the slot document
		// (pre-bookings) and are never swept.
		if sl.Status == StatusReserved && !sl.ReservedAt.IsZero() && sl.ReservedAt.Before(cutoff) {
			sl.Status = StatusFree
			sl.ReservedAt = time.Time{}
			released = append(released, id)
		}
	}
	if len(released) == 0 {
		return nil, nil
	}
	sort.Ints(released)
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return released, nil
}

// flushLocked writes the document atomically (temp file + rename).
func (s *MemoryStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	doc := document{Slots: make([]documentSlot, 0, len(s.slots))}
	for _, sl := range s.snapshotLocked() {
		d := sl.Distance
		doc.Slots = append(doc.Slots, documentSlot{ID: sl.ID, Size: sl.Size, DistanceM: &d, Status: sl.Status, ReservedAt: sl.ReservedAt})
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".inventory-*.json")
	if err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write inventory: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

// DemoLayout is the built-in lot used when no inventory file is configured.
func DemoLayout() []Slot {
	return []Slot{
		{ID: 1, Size: SizeSmall, Distance: 5, Status: StatusFree},
		{ID: 2, Size: SizeSmall, Distance: 8, Status: StatusFree},
		{ID: 3, Size: SizeMedium, Distance: 10, Status: StatusFree},
		{ID: 4, Size: SizeMedium, Distance: 12, Status: StatusFree},
		{ID: 5, Size: SizeMedium, Distance: 15, Status: StatusFree},
		{ID: 6, Size: SizeLarge, Distance: 18, Status: StatusFree},
		{ID: 7, Size: SizeLarge, Distance: 20, Status: StatusFree},
		{ID: 8, Size: SizeSmall, Distance: 22, Status: StatusFree},
		{ID: 9, Size: SizeMedium, Distance: 25, Status: StatusFree},
		{ID: 10, Size: SizeLarge, Distance: 30, Status: StatusFree},
	}
}
