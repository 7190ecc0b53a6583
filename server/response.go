package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("http: encode response failed")
	}
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorResponse{Error: msg, RequestID: requestID(ctx)})
}
