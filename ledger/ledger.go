package ledger

import (
	"context"
	"errors"
	"time"

	"parking-admission/inventory"
)

type BookingStatus string

const (
	BookingPending  BookingStatus = "pending"
	BookingAssigned BookingStatus = "assigned"
	BookingEntered  BookingStatus = "entered"
	BookingExited   BookingStatus = "exited"
)

type Booking struct {
	Plate     string              `json:"plate"`
	Model     string              `json:"model"`
	Size      inventory.SizeClass `json:"size"`
	SlotID    *int                `json:"slot_id,omitempty"`
	Status    BookingStatus       `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

type Entry struct {
	ID        string              `json:"id"`
	Plate     string              `json:"plate"`
	Model     string              `json:"model"`
	Size      inventory.SizeClass `json:"size"`
	SlotID    int                 `json:"slot_id"`
	Price     float64             `json:"price"`
	EnteredAt time.Time           `json:"entered_at"`
	ExitedAt  *time.Time          `json:"exited_at,omitempty"`
}

type Detection struct {
	Plate      string    `json:"plate"`
	Source     string    `json:"source"`
	DetectedAt time.Time `json:"detected_at"`
}

var ErrNotFound = errors.New("not found")

// Ledger is the durable record of bookings, entries and detections. All
// methods are safe for concurrent callers.
type Ledger interface {
	// GetBookingByPlate returns ErrNotFound when the plate has no booking.
	GetBookingByPlate(ctx context.Context, plate string) (*Booking, error)
	// CreateBooking upserts a pending booking for the plate.
	CreateBooking(ctx context.Context, plate, model string, size inventory.SizeClass, slotID *int) error
	MarkBookingAssigned(ctx context.Context, plate string, slotID int) error
	// MarkEntry appends an open entry unless one already exists for the plate,
	// in which case the existing entry is returned with created=false. Either
	// way the booking is left entered on the open entry's slot, in the same
	// atomic step.
	MarkEntry(ctx context.Context, e Entry) (open Entry, created bool, err error)
	// OpenEntry returns ErrNotFound when the plate is not parked.
	OpenEntry(ctx context.Context, plate string) (*Entry, error)
	// MarkExit closes the open entry and returns it.
	MarkExit(ctx context.Context, plate string) (*Entry, error)
	OccupancyCount(ctx context.Context) (int, error)
	PendingBookingCount(ctx context.Context) (int, error)
	LogDetection(ctx context.Context, plate, source string) error
	RecentDetections(ctx context.Context, limit int) ([]Detection, error)
	RecentEntries(ctx context.Context, limit int) ([]Entry, error)
	RecentBookings(ctx context.Context, limit int) ([]Booking, error)
	// DeleteStalePending removes pending bookings created before the cutoff
	// that never named a slot. Slot pre-bookings are kept.
	DeleteStalePending(ctx context.Context, before time.Time) (int64, error)
}
