// Package security decides whether a detected plate may enter.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAllowNote is returned for plates with no security record.
const DefaultAllowNote = "no record (default allow)"

type Verifier interface {
	Verify(ctx context.Context, plate string) (allowed bool, note string, err error)
}

type Record struct {
	Plate   string `json:"plate"`
	Allowed bool   `json:"allowed"`
	Note    string `json:"note"`
}

// Memory is a static allow/deny list.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory(records ...Record) *Memory {
	m := &Memory{records: make(map[string]Record, len(records))}
	for _, r := range records {
		m.records[strings.ToUpper(r.Plate)] = r
	}
	return m
}

func (m *Memory) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[strings.ToUpper(r.Plate)] = r
}

func (m *Memory) Verify(ctx context.Context, plate string) (bool, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[strings.ToUpper(plate)]
	if !ok {
		return true, DefaultAllowNote, nil
	}
	return r.Allowed, noteFor(r), nil
}

func noteFor(r Record) string {
	if r.Note != "" {
		return r.Note
	}
	if r.Allowed {
		return "allowed"
	}
	return "denied"
}

const schema = `
CREATE TABLE IF NOT EXISTS vehicles (
	plate   TEXT PRIMARY KEY,
	allowed BOOLEAN NOT NULL DEFAULT TRUE,
	note    TEXT NOT NULL DEFAULT ''
);`

// Postgres reads the vehicles table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate vehicles: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, r Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO vehicles (plate, allowed, note) VALUES ($1, $2, $3)
		ON CONFLICT (plate) DO UPDATE SET allowed = EXCLUDED.allowed, note = EXCLUDED.note`,
		strings.ToUpper(r.Plate), r.Allowed, r.Note)
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", r.Plate, err)
	}
	return nil
}

func (p *Postgres) Verify(ctx context.Context, plate string) (bool, string, error) {
	r := Record{Plate: plate}
	err := p.pool.QueryRow(ctx,
		`SELECT allowed, note FROM vehicles WHERE plate = $1`, strings.ToUpper(plate),
	).Scan(&r.Allowed, &r.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, DefaultAllowNote, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("lookup vehicle %s: %w", plate, err)
	}
	return r.Allowed, noteFor(r), nil
}
