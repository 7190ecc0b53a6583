package queues

import (
	"context"
	"time"
)

// DetectionEvent is published by a gate camera after plate recognition.
type DetectionEvent struct {
	EventID    string    `json:"eventId,omitempty"`
	Plate      string    `json:"plate"`
	Model      string    `json:"model,omitempty"`
	Size       string    `json:"size,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
	DetectedAt time.Time `json:"detectedAt,omitempty"`
}

// AdmissionResult mirrors the admission outcome for downstream consumers
// (gate barrier, display boards).
type AdmissionResult struct {
	EnvelopeVersion string   `json:"envelopeVersion"`
	Type            string   `json:"type"`
	EventID         string   `json:"eventId,omitempty"`
	Status          string   `json:"status"`
	Plate           string   `json:"plate,omitempty"`
	Model           string   `json:"model,omitempty"`
	Size            string   `json:"size,omitempty"`
	SlotID          *int     `json:"slotId,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Security        string   `json:"security,omitempty"`
	ErrorMessage    *string  `json:"errorMessage,omitempty"`
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *DetectionEvent) error) error
}

type Publisher interface {
	PublishResult(ctx context.Context, res *AdmissionResult) error
}
