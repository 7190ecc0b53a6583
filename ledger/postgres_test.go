package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"parking-admission/inventory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	p := NewPostgres(pool)
	require.NoError(t, p.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE bookings, entries, detections`)
	require.NoError(t, err)
	return p
}

func TestPostgres_EntryLifecycle(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, p.CreateBooking(ctx, "PG123", "Golf", inventory.SizeMedium, nil))
	require.NoError(t, p.MarkBookingAssigned(ctx, "PG123", 2))

	first, created, err := p.MarkEntry(ctx, Entry{Plate: "PG123", Model: "Golf", Size: inventory.SizeMedium, SlotID: 2, Price: 55})
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := p.MarkEntry(ctx, Entry{Plate: "PG123", Size: inventory.SizeMedium, SlotID: 9, Price: 70})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	b, err := p.GetBookingByPlate(ctx, "PG123")
	require.NoError(t, err)
	assert.Equal(t, BookingEntered, b.Status)

	n, err := p.OccupancyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	closed, err := p.MarkExit(ctx, "PG123")
	require.NoError(t, err)
	assert.NotNil(t, closed.ExitedAt)

	_, err = p.MarkExit(ctx, "PG123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_DetectionsAndStale(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, p.LogDetection(ctx, "D1", "gate_camera"))
	got, err := p.RecentDetections(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gate_camera", got[0].Source)

	require.NoError(t, p.CreateBooking(ctx, "STALE", "", inventory.SizeSmall, nil))
	preBooked := 3
	require.NoError(t, p.CreateBooking(ctx, "PRE1", "", inventory.SizeSmall, &preBooked))
	n, err := p.DeleteStalePending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	bookings, err := p.RecentBookings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "PRE1", bookings[0].Plate)
	require.NotNil(t, bookings[0].SlotID)
	assert.Equal(t, 3, *bookings[0].SlotID)
	assert.Equal(t, BookingPending, bookings[0].Status)
}
