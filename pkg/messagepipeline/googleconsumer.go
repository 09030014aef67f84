package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GooglePubsubConsumerConfig holds configuration for the Pub/Sub consumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string `yaml:"project_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	CredentialsFile        string `yaml:"credentials_file"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`
}

// ApplyEnv overrides fields from the environment: GCP_PROJECT_ID,
// PUBSUB_SUBSCRIPTION_ID, GCP_PUBSUB_CREDENTIALS_FILE and
// PUBSUB_MAX_OUTSTANDING_MESSAGES.
func (c *GooglePubsubConsumerConfig) ApplyEnv() {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("PUBSUB_SUBSCRIPTION_ID"); v != "" {
		c.SubscriptionID = v
	}
	if v := os.Getenv("GCP_PUBSUB_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v, err := strconv.Atoi(os.Getenv("PUBSUB_MAX_OUTSTANDING_MESSAGES")); err == nil && v > 0 {
		c.MaxOutstandingMessages = v
	}
}

// GooglePubsubConsumer implements MessageConsumer for a Pub/Sub subscription.
type GooglePubsubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	doneOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer connects to the subscription and checks that it exists.
// The consumer owns the client it creates and closes it on Stop.
func NewGooglePubsubConsumer(ctx context.Context, cfg *GooglePubsubConsumerConfig, clientOpts []option.ClientOption, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	opts := clientOpts
	if emulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST"); emulatorHost != "" && len(opts) == 0 {
		logger.Info().Str("emulator_host", emulatorHost).Msg("Using Pub/Sub emulator for consumer.")
		opts = append(opts, option.WithEndpoint(emulatorHost), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}
	sub := client.Subscription(cfg.SubscriptionID)

	exists, err := sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscription.Exists check for %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub subscription %s does not exist in project %s", cfg.SubscriptionID, cfg.ProjectID)
	}

	maxOutstanding := cfg.MaxOutstandingMessages
	if maxOutstanding <= 0 {
		maxOutstanding = 100
	}
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	return &GooglePubsubConsumer{
		client:       client,
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, maxOutstanding),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages. It is closed once the
// receive loop exits.
func (c *GooglePubsubConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Start launches the receive loop.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	go func() {
		defer c.markDone()
		defer close(c.outputChan)

		err := c.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)

			consumed := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payload,
				PublishTime: msg.PublishTime,
				Attributes:  msg.Attributes,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}

			select {
			case c.outputChan <- consumed:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

// Stop cancels the receive loop, waits for it and closes the client.
func (c *GooglePubsubConsumer) Stop() error {
	var closeErr error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
			select {
			case <-c.doneChan:
			case <-time.After(30 * time.Second):
				c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			}
		} else {
			// Never started: nothing will close the channels for us.
			close(c.outputChan)
			c.markDone()
		}
		if err := c.client.Close(); err != nil {
			closeErr = fmt.Errorf("closing pubsub client: %w", err)
		}
	})
	return closeErr
}

// Done is closed when the consumer has fully stopped.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }

func (c *GooglePubsubConsumer) markDone() {
	c.doneOnce.Do(func() { close(c.doneChan) })
}
