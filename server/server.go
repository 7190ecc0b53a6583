// Package server exposes the admission workflow over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"parking-admission/admission"
	"parking-admission/health"
	"parking-admission/ledger"
	"parking-admission/metrics"
)

// Facility is the part of the admission workflow the API drives.
type Facility interface {
	Run(ctx context.Context, d admission.Detection) admission.Outcome
	Exit(ctx context.Context, plate string) (*ledger.Entry, error)
	Status(ctx context.Context) (*admission.FacilityStatus, error)
	Ledger() ledger.Ledger
}

type Server struct {
	httpServer *http.Server
}

// NewRouter builds the chi router with middleware, the API, health and metrics.
func NewRouter(f Facility, checks ...health.Check) chi.Router {
	h := NewHandler(f)

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(TracingMiddleware)

	health.Register(r, checks...)
	metrics.Register(r)

	r.Post("/trigger_entry", h.TriggerEntry)
	r.Post("/trigger_entry/batch", h.TriggerEntryBatch)
	r.Post("/exit", h.Exit)
	r.Get("/status", h.Status)
	r.Get("/detections", h.Detections)
	r.Get("/entries", h.Entries)
	r.Get("/bookings", h.Bookings)
	return r
}

func New(addr string, f Facility, checks ...health.Check) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewRouter(f, checks...),
			// Remote allocation tiers may take up to the configured timeout each.
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http: shutting down")
	return s.httpServer.Shutdown(ctx)
}
