package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-admission/metrics"
)

type fakeSlots struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	ids   []int
	err   error
}

func (f *fakeSlots) ReleaseStale(ctx context.Context, olderThan time.Duration) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ttl = olderThan
	return f.ids, f.err
}

func (f *fakeSlots) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBookings struct {
	calls  int
	before time.Time
	n      int64
	err    error
}

func (f *fakeBookings) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.n, f.err
}

func TestSweeper_RunOnce(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		slots         *fakeSlots
		bookings      *fakeBookings
		opts          Options
		wantReleased  []int
		wantPurged    int64
		wantSlotCalls int
		wantBookCalls int
	}{
		{
			name:          "releases and purges",
			slots:         &fakeSlots{ids: []int{2, 5}},
			bookings:      &fakeBookings{n: 3},
			opts:          Options{ReservationTTL: 2 * time.Minute, PendingTTL: 24 * time.Hour},
			wantReleased:  []int{2, 5},
			wantPurged:    3,
			wantSlotCalls: 1,
			wantBookCalls: 1,
		},
		{
			name:          "pending purge disabled",
			slots:         &fakeSlots{},
			bookings:      &fakeBookings{n: 3},
			opts:          Options{ReservationTTL: 2 * time.Minute},
			wantSlotCalls: 1,
			wantBookCalls: 0,
		},
		{
			name:          "failures are swallowed",
			slots:         &fakeSlots{err: errors.New("store down")},
			bookings:      &fakeBookings{err: errors.New("db down")},
			opts:          Options{ReservationTTL: time.Minute, PendingTTL: time.Hour},
			wantSlotCalls: 1,
			wantBookCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.slots, tt.bookings, tt.opts)
			s.now = func() time.Time { return now }

			got := s.RunOnce(context.Background())
			assert.Equal(t, tt.wantReleased, got.Released, "got=%#v want=%#v", got.Released, tt.wantReleased)
			assert.Equal(t, tt.wantPurged, got.Purged)
			assert.Equal(t, tt.wantSlotCalls, tt.slots.calls)
			assert.Equal(t, tt.wantBookCalls, tt.bookings.calls)
			if tt.wantSlotCalls > 0 {
				assert.Equal(t, tt.opts.ReservationTTL, tt.slots.ttl)
			}
			if tt.wantBookCalls > 0 {
				assert.Equal(t, now.Add(-tt.opts.PendingTTL), tt.bookings.before)
			}
		})
	}
}

func TestSweeper_RunOnceCountsMetrics(t *testing.T) {
	reservations := testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("reservation"))
	bookings := testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("booking"))

	s := New(&fakeSlots{ids: []int{1, 2, 3}}, &fakeBookings{n: 2}, Options{ReservationTTL: time.Minute, PendingTTL: time.Hour})
	s.RunOnce(context.Background())

	assert.Equal(t, reservations+3, testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("reservation")))
	assert.Equal(t, bookings+2, testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("booking")))
}

func TestSweeper_Start(t *testing.T) {
	t.Run("bad schedule", func(t *testing.T) {
		s := New(&fakeSlots{}, &fakeBookings{}, Options{Schedule: "every now and then"})
		assert.Error(t, s.Start(context.Background()))
	})

	t.Run("runs on schedule", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping scheduled sweep in short mode")
		}
		slots := &fakeSlots{}
		s := New(slots, &fakeBookings{}, Options{Schedule: "@every 1s", ReservationTTL: time.Minute})
		require.NoError(t, s.Start(context.Background()))
		defer s.Stop(context.Background())

		assert.Eventually(t, func() bool { return slots.count() > 0 }, 3*time.Second, 50*time.Millisecond)
	})
}
