package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"parking-admission/allocation"
	"parking-admission/inventory"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const systemPrompt = `You are a parking slot assignment system.
Rules:
1. Only select a slot from the provided list; every listed slot is free and fits the vehicle.
2. Prefer the smallest distance_m (closest to the entrance).
3. Reply with JSON only: {"slot_id": <int>, "reason": "<short text>"}.
4. If no slot is suitable reply {"slot_id": null, "reason": "no suitable slot"}.`

var tracer = otel.Tracer("parking-admission/oracle")

type Options struct {
	Model           string
	MaxTries        uint
	InitialInterval time.Duration
	MaxTokens       int
}

// Advisor is the allocation tier backed by a language model.
type Advisor struct {
	provider Provider
	opts     Options
}

func NewAdvisor(p Provider, opts Options) *Advisor {
	if opts.Model == "" {
		opts.Model = DefaultModels[p.Name()]
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 200
	}
	return &Advisor{provider: p, opts: opts}
}

func (a *Advisor) Name() string { return "oracle" }

func (a *Advisor) Propose(ctx context.Context, req allocation.Request) allocation.Proposal {
	ctx, span := tracer.Start(ctx, "gen_ai.chat "+a.opts.Model)
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.provider.name", a.provider.Name()),
		attribute.String("gen_ai.request.model", a.opts.Model),
		attribute.Int("parking.candidates", len(req.Slots)),
	)

	prompt, err := buildPrompt(req)
	if err != nil {
		return allocation.Fallthrough(fmt.Sprintf("encode prompt: %v", err))
	}

	resp, err := a.generate(ctx, GenerateRequest{
		Model:     a.opts.Model,
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: a.opts.MaxTokens,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return allocation.Fallthrough(fmt.Sprintf("%s: %v", a.provider.Name(), err))
	}
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.OutputTokens),
	)

	id, reason, err := ParseSlotReply(resp.Content)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Str("provider", a.provider.Name()).Str("reply", truncate(resp.Content, 200)).
			Msg("oracle: unparseable reply")
		return allocation.Fallthrough(err.Error())
	}
	if id == nil {
		return allocation.Fallthrough("oracle declined: " + reason)
	}
	span.SetAttributes(attribute.Int("slot.id", *id))
	log.Debug().Int("slotId", *id).Str("reason", reason).Msg("oracle: proposed slot")
	return allocation.Ok(*id)
}

func (a *Advisor) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.InitialInterval
	bo.MaxInterval = 10 * a.opts.InitialInterval

	return backoff.Retry(ctx, func() (*GenerateResponse, error) {
		resp, err := a.provider.Generate(ctx, req)
		if err != nil {
			log.Debug().Err(err).Str("provider", a.provider.Name()).Msg("oracle: generate failed")
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(a.opts.MaxTries),
	)
}

type promptBody struct {
	Instruction string                    `json:"instruction"`
	Slots       []inventory.Slot          `json:"slots"`
	Vehicle     allocation.Vehicle        `json:"vehicle"`
	Context     allocation.RequestContext `json:"context"`
}

func buildPrompt(req allocation.Request) (string, error) {
	b, err := json.Marshal(promptBody{
		Instruction: "Select the best parking slot for the incoming vehicle.",
		Slots:       req.Slots,
		Vehicle:     req.Vehicle,
		Context:     req.Context,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var errNoJSON = errors.New("reply contains no JSON object")

// ParseSlotReply extracts slot_id from a model reply. Code fences and prose
// around the object are tolerated. A null slot_id returns a nil id.
func ParseSlotReply(content string) (*int, string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, "", errNoJSON
	}
	var reply struct {
		SlotID *json.Number `json:"slot_id"`
		Reason string       `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return nil, "", fmt.Errorf("decode reply: %w", err)
	}
	if reply.SlotID == nil {
		return nil, reply.Reason, nil
	}
	n, err := reply.SlotID.Int64()
	if err != nil {
		return nil, "", fmt.Errorf("slot_id %q is not an integer", reply.SlotID.String())
	}
	id := int(n)
	return &id, reply.Reason, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
