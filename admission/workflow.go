// Package admission runs the gate workflow: identify the vehicle, check its
// reservation and security record, price the visit, place it in a slot and
// record the entry.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-admission/allocation"
	"parking-admission/inventory"
	"parking-admission/ledger"
	"parking-admission/metrics"
	"parking-admission/pricing"
	"parking-admission/security"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("parking-admission/admission")

// Allocator is satisfied by *allocation.Engine.
type Allocator interface {
	Allocate(ctx context.Context, v allocation.Vehicle) (int, bool, error)
}

type Workflow struct {
	ledger   ledger.Ledger
	security security.Verifier
	store    inventory.Store
	engine   Allocator
	pricing  pricing.Config
}

func NewWorkflow(l ledger.Ledger, v security.Verifier, store inventory.Store, engine Allocator, pc pricing.Config) *Workflow {
	return &Workflow{ledger: l, security: v, store: store, engine: engine, pricing: pc}
}

// step returns the updated context, or a terminal outcome that ends the run.
type step func(ctx context.Context, c Context) (Context, *Outcome)

// Run processes one detection to a terminal outcome. It never panics and
// never returns an error; failures become StatusError outcomes.
func (w *Workflow) Run(ctx context.Context, d Detection) (out Outcome) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "admission.run")
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("plate", d.Plate).Msg("admission: recovered panic")
			out = Outcome{Status: StatusError, Plate: NormalizePlate(d.Plate), Message: fmt.Sprintf("internal error: %v", r)}
		}
		if out.Status == StatusError {
			span.SetStatus(codes.Error, out.Message)
		}
		span.SetAttributes(attribute.String("admission.status", string(out.Status)))
		span.End()
		metrics.AdmissionDuration.Observe(time.Since(start).Seconds())
		metrics.AdmissionsTotal.WithLabelValues(string(out.Status)).Inc()
	}()

	steps := []struct {
		name string
		fn   step
	}{
		{"intake", w.intake},
		{"reservation_lookup", w.reservationLookup},
		{"security_verify", w.securityVerify},
		{"price_compute", w.priceCompute},
		{"slot_resolve", w.slotResolve},
		{"persist", w.persist},
	}

	c := Context{Plate: d.Plate, Model: d.Model, Source: d.Source}
	c.Size, _ = inventory.ParseSize(d.Size)
	for _, s := range steps {
		stepCtx, stepSpan := tracer.Start(ctx, "admission."+s.name)
		next, term := s.fn(stepCtx, c)
		if term != nil {
			stepSpan.SetAttributes(attribute.String("admission.status", string(term.Status)))
		}
		stepSpan.End()
		if term != nil {
			w.logOutcome(*term, time.Since(start))
			return *term
		}
		c = next
	}

	o := c.outcome(StatusEntered, "")
	w.logOutcome(*o, time.Since(start))
	return *o
}

func (w *Workflow) logOutcome(o Outcome, took time.Duration) {
	ev := log.Info()
	switch o.Status {
	case StatusError:
		ev = log.Error()
	case StatusRejected:
		ev = log.Warn().Str("security", o.Security)
	}
	if o.SlotID != nil {
		ev = ev.Int("slotId", *o.SlotID)
	}
	ev.Str("plate", o.Plate).Str("status", string(o.Status)).Str("detail", o.Message).Dur("took", took).
		Msg("admission: finished")
}

func (w *Workflow) intake(ctx context.Context, c Context) (Context, *Outcome) {
	raw := c.Plate
	c.Plate = NormalizePlate(raw)
	if c.Plate == "" {
		return c, &Outcome{Status: StatusNoPlate, Message: "no plate detected"}
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if err := w.ledger.LogDetection(ctx, c.Plate, c.Source); err != nil {
		log.Warn().Err(err).Str("plate", c.Plate).Msg("admission: failed to log detection")
	}
	return c, nil
}

// activeBooking reports whether b still governs this visit.
func activeBooking(b *ledger.Booking) bool {
	return b != nil && b.Status != ledger.BookingExited
}

func (w *Workflow) reservationLookup(ctx context.Context, c Context) (Context, *Outcome) {
	b, err := w.ledger.GetBookingByPlate(ctx, c.Plate)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		log.Debug().Str("plate", c.Plate).Msg("admission: walk-in")
	case err != nil:
		return c, c.outcome(StatusError, fmt.Sprintf("reservation lookup failed: %v", err))
	case activeBooking(b):
		c.Booking = b
		if b.Model != "" {
			c.Model = b.Model
		}
		if b.Size.Valid() {
			c.Size = b.Size
		}
	}
	if !c.Size.Valid() {
		c.Size = inventory.SizeMedium
	}
	return c, nil
}

func (w *Workflow) securityVerify(ctx context.Context, c Context) (Context, *Outcome) {
	allowed, note, err := w.security.Verify(ctx, c.Plate)
	if err != nil {
		return c, c.outcome(StatusError, fmt.Sprintf("security check failed: %v", err))
	}
	c.SecurityNote = note
	if !allowed {
		return c, c.outcome(StatusRejected, "vehicle denied: "+note)
	}
	return c, nil
}

func (w *Workflow) priceCompute(ctx context.Context, c Context) (Context, *Outcome) {
	c.Price, c.HasPrice = w.CurrentPrice(ctx), true
	return c, nil
}

// CurrentPrice prices a visit at the present occupancy. Ledger failures fall
// back to the inventory's occupied count; an unreadable inventory yields the
// base price.
func (w *Workflow) CurrentPrice(ctx context.Context) float64 {
	slots, err := w.store.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("admission: inventory unreadable, using base price")
		return w.pricing.BasePrice
	}
	counts := inventory.Count(slots)
	occupied, err := w.ledger.OccupancyCount(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("admission: occupancy read failed, using inventory count")
		occupied = counts.Occupied
	}
	price := w.pricing.Price(occupied, counts.Total)
	metrics.CurrentPrice.Set(price)
	return price
}

func (w *Workflow) slotResolve(ctx context.Context, c Context) (Context, *Outcome) {
	if c.Booking != nil && c.Booking.SlotID != nil {
		next, term, done := w.reuseBookedSlot(ctx, c, *c.Booking.SlotID)
		if done {
			return next, term
		}
	}

	if c.Booking == nil {
		if err := w.ledger.CreateBooking(ctx, c.Plate, c.Model, c.Size, nil); err != nil {
			return c, c.outcome(StatusError, fmt.Sprintf("create booking failed: %v", err))
		}
	}

	id, ok, err := w.engine.Allocate(ctx, allocation.Vehicle{Plate: c.Plate, Model: c.Model, Size: c.Size})
	if err != nil {
		return c, c.outcome(StatusError, fmt.Sprintf("slot allocation failed: %v", err))
	}
	if !ok {
		return c, c.outcome(StatusNoSlot, fmt.Sprintf("no %s slot available", c.Size))
	}
	if err := w.ledger.MarkBookingAssigned(ctx, c.Plate, id); err != nil {
		w.compensate(ctx, c.Plate, id, inventory.StatusFree)
		return c, c.outcome(StatusError, fmt.Sprintf("assign booking failed: %v", err))
	}
	c.SlotID, c.HasSlot, c.restoreTo = id, true, inventory.StatusFree
	return c, nil
}

// reuseBookedSlot handles a booking that already names a slot. done=false
// means the slot is unusable and the engine should pick another.
func (w *Workflow) reuseBookedSlot(ctx context.Context, c Context, id int) (Context, *Outcome, bool) {
	sl, err := w.store.Get(ctx, id)
	switch {
	case errors.Is(err, inventory.ErrSlotNotFound):
		log.Warn().Str("plate", c.Plate).Int("slotId", id).Msg("admission: booked slot not in inventory")
		return c, nil, false
	case err != nil:
		return c, c.outcome(StatusError, fmt.Sprintf("read booked slot failed: %v", err)), true
	}

	if sl.Status == inventory.StatusOccupied {
		open, err := w.ledger.OpenEntry(ctx, c.Plate)
		switch {
		case err == nil && open.SlotID == id:
			c.SlotID, c.HasSlot, c.EntryID = id, true, open.ID
			c.Price = open.Price
			return c, c.outcome(StatusEntered, "already admitted"), true
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return c, c.outcome(StatusError, fmt.Sprintf("open entry lookup failed: %v", err)), true
		}
		log.Warn().Str("plate", c.Plate).Int("slotId", id).Msg("admission: booked slot occupied by another vehicle")
		return c, nil, false
	}

	// A timestamped reservation is another admission's engine lock; only an
	// untimestamped document pre-booking belongs to this booking.
	if sl.Status == inventory.StatusReserved && !sl.ReservedAt.IsZero() {
		log.Warn().Str("plate", c.Plate).Int("slotId", id).Msg("admission: booked slot locked by another admission")
		return c, nil, false
	}

	prior := sl.Status
	if sl.Status == inventory.StatusFree {
		if _, err := w.store.Reserve(ctx, id, nil); err != nil {
			if errors.Is(err, inventory.ErrSlotUnavailable) {
				log.Warn().Str("plate", c.Plate).Int("slotId", id).Msg("admission: booked slot taken concurrently")
				return c, nil, false
			}
			return c, c.outcome(StatusError, fmt.Sprintf("reserve booked slot failed: %v", err)), true
		}
	}
	if err := w.ledger.MarkBookingAssigned(ctx, c.Plate, id); err != nil {
		w.compensate(ctx, c.Plate, id, prior)
		return c, c.outcome(StatusError, fmt.Sprintf("assign booking failed: %v", err)), true
	}
	c.SlotID, c.HasSlot, c.restoreTo = id, true, prior
	return c, nil, true
}

func (w *Workflow) persist(ctx context.Context, c Context) (Context, *Outcome) {
	if _, err := w.store.Occupy(ctx, c.SlotID); err != nil {
		if !errors.Is(err, inventory.ErrSlotUnavailable) {
			w.compensate(ctx, c.Plate, c.SlotID, c.restoreTo)
			return c, c.outcome(StatusError, fmt.Sprintf("occupy slot failed: %v", err))
		}
		// A concurrent admission of the same plate may have parked it already.
		open, lerr := w.ledger.OpenEntry(ctx, c.Plate)
		if lerr != nil {
			// The slot went to another vehicle; the booking waits for a later attempt.
			w.unassign(ctx, c)
			return c, c.outcome(StatusError, fmt.Sprintf("occupy slot failed: %v", err))
		}
		entry, _, lerr := w.ledger.MarkEntry(ctx, *open)
		if lerr != nil {
			return c, c.outcome(StatusError, fmt.Sprintf("record entry failed: %v", lerr))
		}
		c.SlotID, c.Price, c.EntryID = entry.SlotID, entry.Price, entry.ID
		return c, c.outcome(StatusEntered, "already admitted")
	}

	entry, created, err := w.ledger.MarkEntry(ctx, ledger.Entry{
		Plate:  c.Plate,
		Model:  c.Model,
		Size:   c.Size,
		SlotID: c.SlotID,
		Price:  c.Price,
	})
	if err != nil {
		w.compensate(ctx, c.Plate, c.SlotID, c.restoreTo)
		return c, c.outcome(StatusError, fmt.Sprintf("record entry failed: %v", err))
	}
	if !created {
		log.Warn().Str("plate", c.Plate).Int("slotId", entry.SlotID).Msg("admission: plate already has an open entry")
		if entry.SlotID != c.SlotID {
			w.compensate(ctx, c.Plate, c.SlotID, c.restoreTo)
		}
		c.SlotID, c.Price, c.EntryID = entry.SlotID, entry.Price, entry.ID
		return c, c.outcome(StatusEntered, "already admitted")
	}
	c.EntryID = entry.ID
	return c, nil
}

// unassign puts the booking back to pending with no slot.
func (w *Workflow) unassign(ctx context.Context, c Context) {
	if err := w.ledger.CreateBooking(ctx, c.Plate, c.Model, c.Size, nil); err != nil {
		log.Error().Err(err).Str("plate", c.Plate).Msg("admission: booking reset failed")
		return
	}
	log.Warn().Str("plate", c.Plate).Int("slotId", c.SlotID).Msg("admission: booking reset to pending")
}

func (w *Workflow) compensate(ctx context.Context, plate string, id int, to inventory.Status) {
	if to == "" {
		to = inventory.StatusFree
	}
	if err := w.store.Restore(ctx, id, to); err != nil {
		log.Error().Err(err).Str("plate", plate).Int("slotId", id).Str("restoreTo", string(to)).
			Msg("admission: slot compensation failed")
		return
	}
	log.Warn().Str("plate", plate).Int("slotId", id).Str("restoreTo", string(to)).Msg("admission: slot compensated")
}
