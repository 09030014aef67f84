package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
)

// GooglePubsubResultSinkConfig holds configuration for the Pub/Sub result sink.
type GooglePubsubResultSinkConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// ApplyEnv overrides fields from GCP_PROJECT_ID and PUBSUB_RESULT_TOPIC_ID.
func (c *GooglePubsubResultSinkConfig) ApplyEnv() {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("PUBSUB_RESULT_TOPIC_ID"); v != "" {
		c.TopicID = v
	}
}

// GooglePubsubResultSink publishes each Result as one JSON message.
type GooglePubsubResultSink struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePubsubResultSink creates a sink for cfg.TopicID, retrying the
// existence check with exponential backoff. The client is not owned by the sink.
func NewGooglePubsubResultSink(ctx context.Context, client *pubsub.Client, cfg *GooglePubsubResultSinkConfig, logger zerolog.Logger) (*GooglePubsubResultSink, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for result sink")
	}
	logger = logger.With().Str("component", "GooglePubsubResultSink").Str("topic_id", cfg.TopicID).Logger()
	topic := client.Topic(cfg.TopicID)

	const maxRetries = 3
	retryDelay := 100 * time.Millisecond
	var exists bool
	var existsErr error
	for i := 0; i < maxRetries; i++ {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		exists, existsErr = topic.Exists(checkCtx)
		cancel()
		if existsErr == nil && exists {
			break
		}
		logger.Warn().Err(existsErr).Int("attempt", i+1).Msg("Result topic not confirmed yet, retrying...")
		time.Sleep(retryDelay)
		retryDelay *= 2
	}
	if existsErr != nil {
		return nil, fmt.Errorf("failed to check existence of topic %s after %d retries: %w", cfg.TopicID, maxRetries, existsErr)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist after %d retries", cfg.TopicID, maxRetries)
	}

	return &GooglePubsubResultSink{topic: topic, logger: logger}, nil
}

// Write publishes the result and waits for the server ack.
func (s *GooglePubsubResultSink) Write(ctx context.Context, result *catfeed.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res := s.topic.Publish(ctx, &pubsub.Message{Data: data})
	msgID, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	s.logger.Debug().Str("pubsub_msg_id", msgID).Int("cat_count", len(result.Cats)).Msg("Result published.")
	return nil
}

// Close flushes outstanding publishes.
func (s *GooglePubsubResultSink) Close() error {
	s.topic.Stop()
	return nil
}
