package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"parking-admission/admission"
	"parking-admission/ledger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type Handler struct {
	facility Facility
}

func NewHandler(f Facility) *Handler {
	return &Handler{facility: f}
}

type batchRequest struct {
	Detections []admission.Detection `json:"detections"`
}

type batchResponse struct {
	admission.Outcome
	Votes  int `json:"votes"`
	Frames int `json:"frames"`
}

type exitRequest struct {
	Plate string `json:"plate"`
}

func statusFor(o admission.Outcome) int {
	switch o.Status {
	case admission.StatusNoPlate:
		return http.StatusBadRequest
	case admission.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (h *Handler) TriggerEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var d admission.Detection
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	out := h.facility.Run(ctx, d)
	WriteJSON(w, statusFor(out), out)
}

// TriggerEntryBatch admits the plate that wins a majority vote across frames.
func (h *Handler) TriggerEntryBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	winner, votes, ok := admission.MajorityPlate(req.Detections)
	if !ok {
		log.Debug().Int("frames", len(req.Detections)).Msg("http: batch had no readable plate")
	}
	out := h.facility.Run(ctx, winner)
	WriteJSON(w, statusFor(out), batchResponse{Outcome: out, Votes: votes, Frames: len(req.Detections)})
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := h.facility.Exit(ctx, req.Plate)
	switch {
	case errors.Is(err, admission.ErrNoPlate):
		WriteError(ctx, w, http.StatusBadRequest, "plate is required")
	case errors.Is(err, ledger.ErrNotFound):
		WriteError(ctx, w, http.StatusNotFound, "no open entry for plate")
	case err != nil:
		log.Error().Err(err).Str("plate", req.Plate).Msg("http: exit failed")
		WriteError(ctx, w, http.StatusInternalServerError, err.Error())
	default:
		WriteJSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.facility.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("http: status failed")
		WriteError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) Detections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.facility.Ledger().RecentDetections(ctx, listLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("http: list detections failed")
		WriteError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.Detection{}
	}
	WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.facility.Ledger().RecentEntries(ctx, listLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("http: list entries failed")
		WriteError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.Entry{}
	}
	WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) Bookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.facility.Ledger().RecentBookings(ctx, listLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("http: list bookings failed")
		WriteError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.Booking{}
	}
	WriteJSON(w, http.StatusOK, rows)
}

// listLimit reads ?limit=, clamped to [1, maxListLimit].
func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
