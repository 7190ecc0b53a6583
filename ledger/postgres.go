package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parking-admission/inventory"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a traced pgx pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	dbName := "parking"
	if config.ConnConfig.Database != "" {
		dbName = config.ConnConfig.Database
	}
	config.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
		otelpgx.WithDisableQuerySpanNamePrefix(),
		otelpgx.WithSpanNameFunc(func(stmt string) string {
			fields := strings.Fields(stmt)
			if len(fields) == 0 {
				return dbName
			}
			return dbName + " " + strings.ToUpper(fields[0])
		}),
	)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	plate      TEXT PRIMARY KEY,
	model      TEXT NOT NULL DEFAULT '',
	size       TEXT NOT NULL,
	slot_id    INTEGER,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS entries (
	id         UUID PRIMARY KEY,
	plate      TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	size       TEXT NOT NULL,
	slot_id    INTEGER NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	entered_at TIMESTAMPTZ NOT NULL,
	exited_at  TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS entries_open_plate ON entries (plate) WHERE exited_at IS NULL;
CREATE INDEX IF NOT EXISTS entries_entered_at ON entries (entered_at DESC);
CREATE TABLE IF NOT EXISTS detections (
	id          BIGSERIAL PRIMARY KEY,
	plate       TEXT NOT NULL,
	source      TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS detections_plate ON detections (plate, detected_at DESC);
`

// Postgres is the PostgreSQL-backed Ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

const selectBooking = `SELECT plate, model, size, slot_id, status, created_at FROM bookings`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b            Booking
		size, status string
	)
	if err := row.Scan(&b.Plate, &b.Model, &size, &b.SlotID, &status, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Size = inventory.SizeClass(size)
	b.Status = BookingStatus(status)
	return &b, nil
}

func (p *Postgres) GetBookingByPlate(ctx context.Context, plate string) (*Booking, error) {
	b, err := scanBooking(p.pool.QueryRow(ctx, selectBooking+` WHERE plate = $1`, plate))
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("query booking %s: %w", plate, err)
	}
	return b, nil
}

func (p *Postgres) RecentBookings(ctx context.Context, limit int) ([]Booking, error) {
	rows, err := p.pool.Query(ctx, selectBooking+` ORDER BY created_at DESC, plate LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBooking(ctx context.Context, plate, model string, size inventory.SizeClass, slotID *int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bookings (plate, model, size, slot_id, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		ON CONFLICT (plate) DO UPDATE
		SET model = EXCLUDED.model, size = EXCLUDED.size, slot_id = EXCLUDED.slot_id,
		    status = 'pending', created_at = EXCLUDED.created_at`,
		plate, model, string(size), slotID)
	if err != nil {
		return fmt.Errorf("upsert booking %s: %w", plate, err)
	}
	return nil
}

func (p *Postgres) MarkBookingAssigned(ctx context.Context, plate string, slotID int) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE bookings SET slot_id = $2, status = 'assigned' WHERE plate = $1`, plate, slotID)
	if err != nil {
		return fmt.Errorf("assign booking %s: %w", plate, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkEntry(ctx context.Context, e Entry) (Entry, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("begin entry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created := true
	e.ID = uuid.NewString()
	e.ExitedAt = nil
	err = tx.QueryRow(ctx, `
		INSERT INTO entries (id, plate, model, size, slot_id, price, entered_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (plate) WHERE exited_at IS NULL DO NOTHING
		RETURNING entered_at`,
		e.ID, e.Plate, e.Model, string(e.Size), e.SlotID, e.Price,
	).Scan(&e.EnteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		open, err := scanEntry(tx.QueryRow(ctx, selectEntry+` WHERE plate = $1 AND exited_at IS NULL`, e.Plate))
		if err != nil {
			return Entry{}, false, fmt.Errorf("load open entry %s: %w", e.Plate, err)
		}
		e, created = *open, false
	} else if err != nil {
		return Entry{}, false, fmt.Errorf("insert entry %s: %w", e.Plate, err)
	}

	// The booking always reflects the open entry, including on a duplicate.
	if _, err := tx.Exec(ctx,
		`UPDATE bookings SET slot_id = $2, status = 'entered' WHERE plate = $1`, e.Plate, e.SlotID); err != nil {
		return Entry{}, false, fmt.Errorf("enter booking %s: %w", e.Plate, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, false, fmt.Errorf("commit entry %s: %w", e.Plate, err)
	}
	return e, created, nil
}

const selectEntry = `SELECT id, plate, model, size, slot_id, price, entered_at, exited_at FROM entries`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e    Entry
		size string
	)
	if err := row.Scan(&e.ID, &e.Plate, &e.Model, &size, &e.SlotID, &e.Price, &e.EnteredAt, &e.ExitedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Size = inventory.SizeClass(size)
	return &e, nil
}

func (p *Postgres) OpenEntry(ctx context.Context, plate string) (*Entry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, selectEntry+` WHERE plate = $1 AND exited_at IS NULL`, plate))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query open entry %s: %w", plate, err)
	}
	return e, err
}

func (p *Postgres) MarkExit(ctx context.Context, plate string) (*Entry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin exit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE entries SET exited_at = NOW()
		WHERE plate = $1 AND exited_at IS NULL
		RETURNING id, plate, model, size, slot_id, price, entered_at, exited_at`, plate))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("close entry %s: %w", plate, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE bookings SET status = 'exited' WHERE plate = $1`, plate); err != nil {
		return nil, fmt.Errorf("exit booking %s: %w", plate, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit exit %s: %w", plate, err)
	}
	return e, nil
}

func (p *Postgres) OccupancyCount(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE exited_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open entries: %w", err)
	}
	return n, nil
}

func (p *Postgres) PendingBookingCount(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending bookings: %w", err)
	}
	return n, nil
}

func (p *Postgres) LogDetection(ctx context.Context, plate, source string) error {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO detections (plate, source, detected_at) VALUES ($1, $2, NOW())`, plate, source); err != nil {
		return fmt.Errorf("log detection %s: %w", plate, err)
	}
	return nil
}

func (p *Postgres) RecentDetections(ctx context.Context, limit int) ([]Detection, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT plate, source, detected_at FROM detections ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.Plate, &d.Source, &d.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, selectEntry+` ORDER BY entered_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM bookings WHERE status = 'pending' AND slot_id IS NULL AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending bookings: %w", err)
	}
	return tag.RowsAffected(), nil
}
