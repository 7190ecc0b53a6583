// Package sweeper runs the periodic maintenance jobs: stale slot
// reservations go back to free and abandoned pending bookings are purged.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"parking-admission/metrics"
)

type SlotReleaser interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) ([]int, error)
}

type PendingPurger interface {
	DeleteStalePending(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	Schedule       string
	ReservationTTL time.Duration
	// PendingTTL of zero disables the booking purge.
	PendingTTL time.Duration
}

type Sweeper struct {
	slots    SlotReleaser
	bookings PendingPurger
	opts     Options
	now      func() time.Time
	cron     *cron.Cron
}

func New(slots SlotReleaser, bookings PendingPurger, opts Options) *Sweeper {
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	return &Sweeper{
		slots:    slots,
		bookings: bookings,
		opts:     opts,
		now:      time.Now,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep. The returned error only reports a bad schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", s.opts.Schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.opts.Schedule).Dur("reservationTTL", s.opts.ReservationTTL).Dur("pendingTTL", s.opts.PendingTTL).Msg("sweeper: started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("sweeper: stop timed out with a sweep still running")
	}
}

// Result counts what one sweep cleaned up.
type Result struct {
	Released []int
	Purged   int64
}

// RunOnce performs a single sweep. Failures are logged; the next tick retries.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result

	if s.opts.ReservationTTL > 0 {
		ids, err := s.slots.ReleaseStale(ctx, s.opts.ReservationTTL)
		if err != nil {
			log.Error().Err(err).Msg("sweeper: releasing stale reservations failed")
		} else if len(ids) > 0 {
			res.Released = ids
			metrics.SweptTotal.WithLabelValues("reservation").Add(float64(len(ids)))
			log.Info().Ints("slotIds", ids).Msg("sweeper: released stale reservations")
		}
	}

	if s.opts.PendingTTL > 0 {
		n, err := s.bookings.DeleteStalePending(ctx, s.now().Add(-s.opts.PendingTTL))
		if err != nil {
			log.Error().Err(err).Msg("sweeper: purging stale pending bookings failed")
		} else if n > 0 {
			res.Purged = n
			metrics.SweptTotal.WithLabelValues("booking").Add(float64(n))
			log.Info().Int64("count", n).Msg("sweeper: purged stale pending bookings")
		}
	}
	return res
}
