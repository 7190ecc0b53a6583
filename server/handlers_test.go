package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-admission/admission"
	"parking-admission/allocation"
	"parking-admission/health"
	"parking-admission/inventory"
	"parking-admission/ledger"
	"parking-admission/pricing"
	"parking-admission/security"
)

type testEnv struct {
	router http.Handler
	store  *inventory.MemoryStore
	ledger *ledger.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := inventory.NewMemoryStore([]inventory.Slot{
		{ID: 1, Size: inventory.SizeMedium, Distance: 10},
		{ID: 2, Size: inventory.SizeLarge, Distance: 5},
	})
	require.NoError(t, err)
	l := ledger.NewMemory()
	sec := security.NewMemory(security.Record{Plate: "XYZ999", Allowed: false, Note: "blacklisted"})
	engine := allocation.NewEngine(store, allocation.ModeStrict, time.Second)
	w := admission.NewWorkflow(l, sec, store, engine, pricing.Config{Policy: pricing.PolicySurge, BasePrice: 50, Elasticity: 1, TargetRatio: 0.5})
	return &testEnv{router: NewRouter(w), store: store, ledger: l}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTriggerEntry(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantStatus admission.Status
		wantSlot   *int
	}{
		{"walk-in gets medium slot", `{"plate":"ABC-123","model":"Civic","size":"medium"}`, http.StatusOK, admission.StatusEntered, intPtr(1)},
		{"denied plate", `{"plate":"XYZ999"}`, http.StatusOK, admission.StatusRejected, nil},
		{"missing plate", `{"model":"Civic"}`, http.StatusBadRequest, admission.StatusNoPlate, nil},
		{"short plate", `{"plate":"A1"}`, http.StatusBadRequest, admission.StatusNoPlate, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/trigger_entry", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			got := decode[admission.Outcome](t, rec)
			assert.Equal(t, tt.wantStatus, got.Status, "got=%#v want=%#v", got.Status, tt.wantStatus)
			assert.Equal(t, tt.wantSlot, got.SlotID)
		})
	}
}

func TestTriggerEntry_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/trigger_entry", `{"plate":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got := decode[errorResponse](t, rec)
	assert.Equal(t, "invalid request body", got.Error)
	assert.NotEmpty(t, got.RequestID)
}

func TestTriggerEntry_NoSlot(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/trigger_entry", `{"plate":"BUS0001","size":"small"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[admission.Outcome](t, rec)
	assert.Equal(t, admission.StatusNoSlot, got.Status)

	b, err := env.ledger.GetBookingByPlate(context.Background(), "BUS0001")
	require.NoError(t, err)
	assert.Equal(t, ledger.BookingPending, b.Status)
}

func TestTriggerEntryBatch(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantStatus admission.Status
		wantPlate  string
		wantVotes  int
	}{
		{
			name:       "majority plate wins",
			body:       `{"detections":[{"plate":"ABC123","size":"medium","confidence":0.7},{"plate":"A8C123","confidence":0.9},{"plate":"abc 123","size":"medium","confidence":0.8}]}`,
			wantCode:   http.StatusOK,
			wantStatus: admission.StatusEntered,
			wantPlate:  "ABC123",
			wantVotes:  2,
		},
		{
			name:       "no readable plate",
			body:       `{"detections":[{"plate":"??"},{"plate":""}]}`,
			wantCode:   http.StatusBadRequest,
			wantStatus: admission.StatusNoPlate,
		},
		{
			name:       "empty batch",
			body:       `{"detections":[]}`,
			wantCode:   http.StatusBadRequest,
			wantStatus: admission.StatusNoPlate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/trigger_entry/batch", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			got := decode[batchResponse](t, rec)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantPlate, got.Plate)
			assert.Equal(t, tt.wantVotes, got.Votes)
		})
	}
}

func TestExit(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/trigger_entry", `{"plate":"ABC123","size":"large"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"closes open entry", `{"plate":"abc-123"}`, http.StatusOK},
		{"second exit has no open entry", `{"plate":"ABC123"}`, http.StatusNotFound},
		{"missing plate", `{}`, http.StatusBadRequest},
		{"invalid body", `nope`, http.StatusBadRequest},
	}
	// subtests run in order against the same facility
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/exit", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	sl, err := env.store.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusFree, sl.Status)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/trigger_entry", `{"plate":"ABC123","size":"medium"}`)

	rec := env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[admission.FacilityStatus](t, rec)
	assert.Equal(t, 2, got.Counts.Total)
	assert.Equal(t, 1, got.Counts.Occupied)
	assert.Equal(t, 1, got.OpenEntries)
	assert.Equal(t, 50.0, got.Price)
	assert.Len(t, got.Slots, 2)
}

func TestListings(t *testing.T) {
	env := newTestEnv(t)
	for _, p := range []string{"AAA111", "BBB222", "XYZ999"} {
		env.do(t, http.MethodPost, "/trigger_entry", `{"plate":"`+p+`","size":"medium"}`)
	}

	tests := []struct {
		name    string
		path    string
		wantLen int
	}{
		{"detections default limit", "/detections", 3},
		{"detections limited", "/detections?limit=2", 2},
		{"detections bad limit uses default", "/detections?limit=abc", 3},
		{"entries", "/entries", 1},
		{"entries zero limit uses default", "/entries?limit=0", 1},
		{"bookings skip rejected plates", "/bookings", 2},
		{"bookings limited", "/bookings?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			var rows []json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
			assert.Len(t, rows, tt.wantLen)
		})
	}
}

func TestListLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultListLimit},
		{"limit=5", 5},
		{"limit=-1", defaultListLimit},
		{"limit=100000", maxListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/entries?"+tt.query, nil)
			if got := listLimit(r); got != tt.want {
				t.Errorf("listLimit() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

// brokenFacility fails every read and panics on admission.
type brokenFacility struct{}

func (brokenFacility) Run(context.Context, admission.Detection) admission.Outcome {
	panic("workflow exploded")
}

func (brokenFacility) Exit(context.Context, string) (*ledger.Entry, error) {
	return nil, errors.New("ledger offline")
}

func (brokenFacility) Status(context.Context) (*admission.FacilityStatus, error) {
	return nil, errors.New("inventory offline")
}

func (brokenFacility) Ledger() ledger.Ledger { return nil }

func TestRouter_Failures(t *testing.T) {
	router := NewRouter(brokenFacility{})
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"panic is recovered", http.MethodPost, "/trigger_entry", `{"plate":"ABC123"}`, http.StatusInternalServerError},
		{"exit error", http.MethodPost, "/exit", `{"plate":"ABC123"}`, http.StatusInternalServerError},
		{"status error", http.MethodGet, "/status", "", http.StatusInternalServerError},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/trigger_entry", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(brokenFacility{}, health.Check{Name: "ledger", Fn: func(context.Context) error { return errors.New("down") }})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parking_admission_duration_seconds")

	notReady := httptest.NewRecorder()
	router.ServeHTTP(notReady, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, notReady.Code)
}

func TestRequestIDMiddleware_KeepsInboundID(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "gate-7-req")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "gate-7-req", rec.Header().Get("X-Request-ID"))
}

func intPtr(v int) *int { return &v }
