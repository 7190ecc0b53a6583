package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// Rank orders size classes small < medium < large. Unknown sizes rank 0.
func (s SizeClass) Rank() int {
	switch s {
	case SizeSmall:
		return 1
	case SizeMedium:
		return 2
	case SizeLarge:
		return 3
	default:
		return 0
	}
}

func (s SizeClass) Valid() bool { return s.Rank() > 0 }

func ParseSize(v string) (SizeClass, error) {
	s := SizeClass(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown size class %q", v)
	}
	return s, nil
}

type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusOccupied Status = "occupied"
)

type Slot struct {
	ID         int       `json:"id"`
	Size       SizeClass `json:"size"`
	Distance   float64   `json:"distance_m"`
	Status     Status    `json:"status"`
	ReservedAt time.Time `json:"reserved_at,omitempty"`
}

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot not available")
	ErrNoCandidate     = errors.New("no candidate slot")
)

// Chooser picks a slot id from a snapshot taken under the store lock.
type Chooser func(slots []Slot) (int, bool)

// Store is the shared slot inventory. Every status change is atomic with
// respect to other callers.
type Store interface {
	Snapshot(ctx context.Context) ([]Slot, error)
	Get(ctx context.Context, id int) (Slot, error)
	// Reserve flips a free slot to reserved if accept still holds for it.
	Reserve(ctx context.Context, id int, accept func(Slot) bool) (Slot, error)
	// ReserveChosen runs choose and reserves its pick in one critical section.
	ReserveChosen(ctx context.Context, choose Chooser) (Slot, error)
	// Occupy moves a free or reserved slot to occupied and returns the prior status.
	Occupy(ctx context.Context, id int) (Status, error)
	// Restore is the compensating write used when admission persistence fails.
	Restore(ctx context.Context, id int, status Status) error
	// Vacate frees an occupied slot after an exit event.
	Vacate(ctx context.Context, id int) error
	// ReleaseStale frees reservations older than the given age.
	ReleaseStale(ctx context.Context, olderThan time.Duration) ([]int, error)
}

// Counts summarises a snapshot by status.
type Counts struct {
	Total    int `json:"total"`
	Free     int `json:"free"`
	Reserved int `json:"reserved"`
	Occupied int `json:"occupied"`
}

func Count(slots []Slot) Counts {
	c := Counts{Total: len(slots)}
	for _, s := range slots {
		switch s.Status {
		case StatusFree:
			c.Free++
		case StatusReserved:
			c.Reserved++
		case StatusOccupied:
			c.Occupied++
		}
	}
	return c
}
