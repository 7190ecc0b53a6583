package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parking-admission/inventory"
	"parking-admission/metrics"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout = 20 * time.Second
	localTier      = "local"
)

var tracer = otel.Tracer("parking-admission/allocation")

// Engine runs the allocation cascade: remote tiers in order, then the local
// nearest-slot rule. A returned slot is already reserved in the store.
type Engine struct {
	store   inventory.Store
	mode    Mode
	timeout time.Duration
	tiers   []Tier
}

func NewEngine(store inventory.Store, mode Mode, timeout time.Duration, tiers ...Tier) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{store: store, mode: mode, timeout: timeout, tiers: tiers}
}

func (e *Engine) Mode() Mode { return e.mode }

// Allocate returns found=false when no eligible free slot exists. A non-nil
// error means the inventory itself failed.
func (e *Engine) Allocate(ctx context.Context, v Vehicle) (int, bool, error) {
	ctx, span := tracer.Start(ctx, "allocation.allocate")
	defer span.End()
	span.SetAttributes(
		attribute.String("vehicle.plate", v.Plate),
		attribute.String("vehicle.size", string(v.Size)),
		attribute.String("allocation.mode", string(e.mode)),
	)

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("snapshot inventory: %w", err)
	}
	eligible := EligibleFree(snap, v.Size, e.mode)
	if len(eligible) == 0 {
		log.Info().Str("plate", v.Plate).Str("size", string(v.Size)).Str("mode", string(e.mode)).
			Msg("allocation: no eligible free slot")
		return 0, false, nil
	}

	// One candidate leaves nothing to advise on.
	if len(eligible) > 1 {
		counts := inventory.Count(snap)
		req := Request{
			Slots:   eligible,
			Vehicle: v,
			Context: RequestContext{
				Mode:      e.mode,
				Total:     counts.Total,
				Occupied:  counts.Occupied,
				Free:      counts.Free,
				Timestamp: time.Now().UTC(),
			},
		}
		for _, t := range e.tiers {
			id, ok, err := e.tryTier(ctx, t, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return 0, false, err
			}
			if ok {
				span.SetAttributes(attribute.String("allocation.tier", t.Name()), attribute.Int("slot.id", id))
				return id, true, nil
			}
		}
	}

	sl, err := e.store.ReserveChosen(ctx, func(slots []inventory.Slot) (int, bool) {
		return Nearest(EligibleFree(slots, v.Size, e.mode))
	})
	switch {
	case errors.Is(err, inventory.ErrNoCandidate):
		metrics.AllocationTierTotal.WithLabelValues(localTier, ResultFallthrough.String()).Inc()
		log.Info().Str("plate", v.Plate).Msg("allocation: eligible slots taken concurrently")
		return 0, false, nil
	case err != nil:
		metrics.AllocationTierTotal.WithLabelValues(localTier, ResultFatal.String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("reserve nearest slot: %w", err)
	}
	metrics.AllocationTierTotal.WithLabelValues(localTier, ResultOk.String()).Inc()
	span.SetAttributes(attribute.String("allocation.tier", localTier), attribute.Int("slot.id", sl.ID))
	log.Info().Str("plate", v.Plate).Int("slotId", sl.ID).Float64("distance", sl.Distance).
		Msg("allocation: reserved nearest slot")
	return sl.ID, true, nil
}

// tryTier asks one remote tier under its own deadline, then re-validates and
// reserves the proposal under the store lock.
func (e *Engine) tryTier(ctx context.Context, t Tier, req Request) (int, bool, error) {
	logger := log.With().Str("tier", t.Name()).Str("plate", req.Vehicle.Plate).Logger()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	start := time.Now()
	p := t.Propose(callCtx, req)
	cancel()

	switch p.Result {
	case ResultFatal:
		metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultFatal.String()).Inc()
		return 0, false, fmt.Errorf("%s tier: %w", t.Name(), p.Err)
	case ResultFallthrough:
		metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultFallthrough.String()).Inc()
		logger.Warn().Str("reason", p.Reason).Dur("took", time.Since(start)).Msg("allocation: tier fell through")
		return 0, false, nil
	}

	if !req.Contains(p.SlotID) {
		metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultFallthrough.String()).Inc()
		logger.Warn().Int("slotId", p.SlotID).Msg("allocation: tier proposed a slot outside the candidates")
		return 0, false, nil
	}

	sl, err := e.store.Reserve(ctx, p.SlotID, func(s inventory.Slot) bool {
		return e.mode.Eligible(s.Size, req.Vehicle.Size)
	})
	switch {
	case errors.Is(err, inventory.ErrSlotUnavailable), errors.Is(err, inventory.ErrSlotNotFound):
		metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultFallthrough.String()).Inc()
		logger.Warn().Int("slotId", p.SlotID).Msg("allocation: proposed slot no longer free")
		return 0, false, nil
	case err != nil:
		metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultFatal.String()).Inc()
		return 0, false, fmt.Errorf("reserve slot %d: %w", p.SlotID, err)
	}

	metrics.AllocationTierTotal.WithLabelValues(t.Name(), ResultOk.String()).Inc()
	logger.Info().Int("slotId", sl.ID).Dur("took", time.Since(start)).Msg("allocation: reserved proposed slot")
	return sl.ID, true, nil
}
