// Package orchestration delegates slot choice to an external job runner.
package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"parking-admission/allocation"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const (
	JobName      = "parking_slot_alloc"
	instructions = `Return {"slot_id": int or null, "reason": str}`
)

type JobSpec struct {
	Name         string             `json:"name"`
	Input        allocation.Request `json:"input"`
	Instructions string             `json:"instructions"`
}

type reply struct {
	SlotID *int   `json:"slot_id"`
	Reason string `json:"reason"`
	Output *struct {
		SlotID *int   `json:"slot_id"`
		Reason string `json:"reason"`
	} `json:"output"`
}

// slot returns the top-level slot_id, else output.slot_id.
func (r reply) slot() (*int, string) {
	if r.SlotID != nil {
		return r.SlotID, r.Reason
	}
	if r.Output != nil {
		return r.Output.SlotID, r.Output.Reason
	}
	return nil, r.Reason
}

type Client struct {
	url      string
	apiKey   string
	http     *http.Client
	maxTries uint
	interval time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.interval = initial
	}
}

func New(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		apiKey:   apiKey,
		http:     &http.Client{},
		maxTries: 2,
		interval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "orchestration" }

func (c *Client) Propose(ctx context.Context, req allocation.Request) allocation.Proposal {
	body, err := json.Marshal(JobSpec{Name: JobName, Input: req, Instructions: instructions})
	if err != nil {
		return allocation.Fallthrough(fmt.Sprintf("encode job: %v", err))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.interval
	r, err := backoff.Retry(ctx, func() (reply, error) {
		return c.post(ctx, body)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return allocation.Fallthrough(err.Error())
	}

	id, reason := r.slot()
	if id == nil {
		return allocation.Fallthrough("orchestration declined: " + reason)
	}
	log.Debug().Int("slotId", *id).Str("reason", reason).Msg("orchestration: proposed slot")
	return allocation.Ok(*id)
}

func (c *Client) post(ctx context.Context, body []byte) (reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return reply{}, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return reply{}, err
	}
	switch {
	case resp.StatusCode >= 500:
		return reply{}, fmt.Errorf("orchestration status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return reply{}, backoff.Permanent(fmt.Errorf("orchestration status %d", resp.StatusCode))
	}

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return reply{}, backoff.Permanent(fmt.Errorf("decode orchestration reply: %w", err))
	}
	return r, nil
}
