package messagepipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher is a direct, non-batching publisher. It is used for the
// dead-letter topic and by the load generator.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	Stop()
}

// GoogleSimplePublisher implements SimplePublisher on a Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGoogleSimplePublisher creates a publisher for topicID. The client is not
// owned by the publisher.
func NewGoogleSimplePublisher(client *pubsub.Client, topicID string, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	return &GoogleSimplePublisher{
		topic:  client.Topic(topicID),
		logger: logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish sends one message and waits for the server to confirm it.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	p.logger.Debug().Str("pubsub_msg_id", msgID).Msg("Message published.")
	return nil
}

// Stop flushes any pending messages for the topic.
func (p *GoogleSimplePublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
