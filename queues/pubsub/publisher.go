package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"parking-admission/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
)

// Publisher sends admission results to a topic. The client is created on
// first use.
type Publisher struct {
	projectID   string
	resultTopic string
	credsFile   string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, resultTopic, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, resultTopic: resultTopic, credsFile: credsFile}
}

func (p *Publisher) ensureTopic(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	client, err := newClient(ctx, p.projectID, p.credsFile)
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.resultTopic).Msg("pubsub: failed to create publisher client")
		return nil, err
	}
	p.client = client
	p.topic = client.Topic(p.resultTopic)
	log.Info().Str("topic", p.resultTopic).Msg("pubsub: publisher initialized")
	return p.topic, nil
}

func (p *Publisher) PublishResult(ctx context.Context, res *queues.AdmissionResult) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Interface("result", res).Msg("pubsub: failed to marshal admission result")
		return err
	}
	// Publish and wait for server ack
	r := topic.Publish(ctx, &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"status": res.Status},
	})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("plate", res.Plate).Str("eventId", res.EventID).Msg("pubsub: failed to publish admission result")
		return err
	}
	log.Debug().Str("messageID", id).Str("plate", res.Plate).Str("status", res.Status).Msg("pubsub: published admission result")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
