package admission

import (
	"context"
	"errors"
	"fmt"

	"parking-admission/inventory"
	"parking-admission/ledger"
	"parking-admission/metrics"

	"github.com/rs/zerolog/log"
)

var ErrNoPlate = errors.New("no plate")

// Exit closes the plate's open entry and frees its slot.
func (w *Workflow) Exit(ctx context.Context, rawPlate string) (*ledger.Entry, error) {
	plate := NormalizePlate(rawPlate)
	if plate == "" {
		return nil, ErrNoPlate
	}
	ctx, span := tracer.Start(ctx, "admission.exit")
	defer span.End()

	entry, err := w.ledger.MarkExit(ctx, plate)
	if err != nil {
		return nil, err
	}
	if err := w.store.Vacate(ctx, entry.SlotID); err != nil {
		// The ledger is authoritative for the visit; a slot that was not
		// occupied needs no release.
		if !errors.Is(err, inventory.ErrSlotUnavailable) && !errors.Is(err, inventory.ErrSlotNotFound) {
			return entry, fmt.Errorf("vacate slot %d: %w", entry.SlotID, err)
		}
		log.Warn().Err(err).Str("plate", plate).Int("slotId", entry.SlotID).Msg("admission: exit slot was not occupied")
	}
	log.Info().Str("plate", plate).Int("slotId", entry.SlotID).Msg("admission: vehicle exited")
	return entry, nil
}

type FacilityStatus struct {
	Slots           []inventory.Slot `json:"slots"`
	Counts          inventory.Counts `json:"counts"`
	OpenEntries     int              `json:"open_entries"`
	PendingBookings int              `json:"pending_bookings"`
	Price           float64          `json:"price"`
}

// Status reports the inventory, ledger occupancy and current price, and
// refreshes the slot gauges.
func (w *Workflow) Status(ctx context.Context) (*FacilityStatus, error) {
	slots, err := w.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot inventory: %w", err)
	}
	open, err := w.ledger.OccupancyCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count open entries: %w", err)
	}
	pending, err := w.ledger.PendingBookingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending bookings: %w", err)
	}

	counts := inventory.Count(slots)
	metrics.SlotsByStatus.WithLabelValues(string(inventory.StatusFree)).Set(float64(counts.Free))
	metrics.SlotsByStatus.WithLabelValues(string(inventory.StatusReserved)).Set(float64(counts.Reserved))
	metrics.SlotsByStatus.WithLabelValues(string(inventory.StatusOccupied)).Set(float64(counts.Occupied))

	return &FacilityStatus{
		Slots:           slots,
		Counts:          counts,
		OpenEntries:     open,
		PendingBookings: pending,
		Price:           w.pricing.Price(open, counts.Total),
	}, nil
}

// Ledger exposes the underlying ledger for read-only listings.
func (w *Workflow) Ledger() ledger.Ledger { return w.ledger }
