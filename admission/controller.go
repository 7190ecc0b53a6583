package admission

import (
	"context"

	"parking-admission/queues"

	"github.com/rs/zerolog/log"
)

// Runner is satisfied by *Workflow.
type Runner interface {
	Run(ctx context.Context, d Detection) Outcome
}

// Controller wires queue consumption to the admission workflow and publishes
// each outcome.
type Controller struct {
	publisher queues.Publisher
	workflow  Runner
}

func NewController(p queues.Publisher, w Runner) *Controller {
	return &Controller{publisher: p, workflow: w}
}

func (c *Controller) Handle(ctx context.Context, ev *queues.DetectionEvent) error {
	log.Info().Str("eventId", ev.EventID).Str("plate", ev.Plate).Str("source", ev.Source).
		Msg("controller: handling detection event")

	out := c.workflow.Run(ctx, Detection{
		Plate:      ev.Plate,
		Model:      ev.Model,
		Size:       ev.Size,
		Confidence: ev.Confidence,
		Source:     ev.Source,
	})

	res := ResultEnvelope(ev.EventID, out)
	if err := c.publisher.PublishResult(ctx, res); err != nil {
		log.Error().Err(err).Str("eventId", ev.EventID).Str("plate", out.Plate).Msg("controller: failed to publish result")
		return err
	}
	return nil
}

// ResultEnvelope converts an outcome to its published form.
func ResultEnvelope(eventID string, o Outcome) *queues.AdmissionResult {
	res := &queues.AdmissionResult{
		EnvelopeVersion: "1.0",
		Type:            "admission-result",
		EventID:         eventID,
		Status:          string(o.Status),
		Plate:           o.Plate,
		Model:           o.Model,
		Size:            string(o.Size),
		SlotID:          o.SlotID,
		Price:           o.Price,
		Security:        o.Security,
	}
	if o.Status != StatusEntered && o.Message != "" {
		msg := o.Message
		res.ErrorMessage = &msg
	}
	return res
}
