package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"parking-admission/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

type disposition int

const (
	ack disposition = iota
	nack
)

// Start blocks receiving detection events until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.DetectionEvent) error) error {
	if s.client == nil {
		client, err := newClient(ctx, s.projectID, s.credsFile)
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("pubsub: failed to create subscriber client")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub: subscriber initialized")
	}

	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("pubsub: received message")
		if handleMessage(ctx, m.Data, handler) == ack {
			m.Ack()
			return
		}
		m.Nack()
	})
}

// handleMessage decodes one payload and runs the handler. Undecodable
// payloads are nacked for redelivery; events without a plate are acked and
// dropped.
func handleMessage(ctx context.Context, data []byte, handler func(context.Context, *queues.DetectionEvent) error) disposition {
	recvAt := time.Now()
	var ev queues.DetectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Error().Err(err).Msg("pubsub: failed to unmarshal detection event")
		return nack
	}
	if ev.Plate == "" {
		log.Error().Str("eventId", ev.EventID).Str("source", ev.Source).Msg("pubsub: detection event without plate; dropping")
		return ack
	}

	if err := handler(ctx, &ev); err != nil {
		log.Error().Err(err).Str("eventId", ev.EventID).Str("plate", ev.Plate).Msg("pubsub: handler failed; will retry")
		return nack
	}
	log.Debug().Str("eventId", ev.EventID).Dur("latency", time.Since(recvAt)).Msg("pubsub: handler succeeded; acking message")
	return ack
}

func (s *Subscriber) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
