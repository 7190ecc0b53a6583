package health

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Router is satisfied by *http.ServeMux and chi.Router.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// Check reports whether a dependency can serve traffic.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

func Register(r Router, checks ...Check) {
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				log.Warn().Err(err).Str("check", c.Name).Msg("health: not ready")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready: " + c.Name))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}))
}
