package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	earliestOffset = "earliest"
	latestOffset   = "latest"
)

// KafkaConsumerConfig holds configuration for the Kafka consumer.
type KafkaConsumerConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	GroupID     string   `yaml:"group_id"`
	StartOffset string   `yaml:"start_offset"`
	BufferSize  int      `yaml:"buffer_size"`
}

// ApplyEnv overrides fields from KAFKA_BROKERS (comma separated),
// KAFKA_TOPIC, KAFKA_GROUP_ID and KAFKA_START_OFFSET. An empty group
// defaults to "catfeed".
func (c *KafkaConsumerConfig) ApplyEnv() {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Topic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		c.GroupID = v
	}
	if v := os.Getenv("KAFKA_START_OFFSET"); v != "" {
		c.StartOffset = v
	}
	if c.GroupID == "" {
		c.GroupID = "catfeed"
	}
}

// Validate checks the required fields.
func (c *KafkaConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka consumer requires at least one broker")
	}
	if c.Topic == "" {
		return errors.New("kafka consumer requires a topic")
	}
	switch c.StartOffset {
	case "", earliestOffset, latestOffset:
	default:
		return fmt.Errorf("kafka start offset must be %q or %q, got %q", earliestOffset, latestOffset, c.StartOffset)
	}
	return nil
}

func startOffset(s string) int64 {
	if s == earliestOffset {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

// kafkaReader is the subset of *kafka.Reader the consumer uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer implements MessageConsumer on a Kafka consumer group.
//
// Group offsets are cumulative, so Ack only commits once every earlier
// message on the same partition has been Acked. A Nack holds the partition's
// committed offset below the Nacked message until a rebalance or restart
// redelivers it.
//
// Stop ends fetching but keeps the reader open so in-flight messages can
// still be committed; Close releases the reader.
type KafkaConsumer struct {
	reader     kafkaReader
	offsets    *offsetTracker
	logger     zerolog.Logger
	outputChan chan types.ConsumedMessage
	doneChan   chan struct{}
	cancel     context.CancelFunc
	stopOnce   sync.Once
	doneOnce   sync.Once
	closeOnce  sync.Once
}

// NewKafkaConsumer creates a consumer backed by a kafka.Reader.
func NewKafkaConsumer(cfg *KafkaConsumerConfig, logger zerolog.Logger) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: startOffset(cfg.StartOffset),
	})
	return newKafkaConsumer(reader, cfg.BufferSize, logger.With().Str("topic", cfg.Topic).Str("group_id", cfg.GroupID).Logger()), nil
}

func newKafkaConsumer(reader kafkaReader, bufferSize int, logger zerolog.Logger) *KafkaConsumer {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &KafkaConsumer{
		reader:     reader,
		offsets:    newOffsetTracker(),
		logger:     logger.With().Str("component", "KafkaConsumer").Logger(),
		outputChan: make(chan types.ConsumedMessage, bufferSize),
		doneChan:   make(chan struct{}),
	}
}

// Messages returns the channel of fetched messages.
func (c *KafkaConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Start launches the fetch loop.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Kafka message consumption...")
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer c.markDone()
		defer close(c.outputChan)

		for {
			msg, err := c.reader.FetchMessage(fetchCtx)
			if err != nil {
				if fetchCtx.Err() == nil {
					c.logger.Error().Err(err).Msg("Kafka fetch failed, stopping consumer.")
				}
				return
			}

			c.offsets.track(msg)
			select {
			case c.outputChan <- c.toConsumed(msg):
			case <-fetchCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (c *KafkaConsumer) toConsumed(msg kafka.Message) types.ConsumedMessage {
	id := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	attrs := map[string]string{
		AttrTopic:     msg.Topic,
		AttrPartition: strconv.Itoa(msg.Partition),
		AttrOffset:    strconv.FormatInt(msg.Offset, 10),
	}
	if len(msg.Key) > 0 {
		attrs[AttrKey] = string(msg.Key)
	}
	for _, h := range msg.Headers {
		attrs[h.Key] = string(h.Value)
	}

	return types.ConsumedMessage{
		ID:          id,
		Payload:     msg.Value,
		PublishTime: msg.Time,
		Attributes:  attrs,
		Ack: func() {
			c.offsets.ack(msg, func(upTo kafka.Message) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := c.reader.CommitMessages(ctx, upTo); err != nil {
					c.logger.Error().Err(err).Str("msg_id", id).Int64("commit_offset", upTo.Offset).Msg("Failed to commit Kafka offset.")
				}
			})
		},
		Nack: func() {
			c.offsets.nack(msg)
			c.logger.Warn().Str("msg_id", id).Msg("Message Nacked, partition offset held for redelivery.")
		},
	}
}

// Stop cancels the fetch loop and waits for it to exit.
func (c *KafkaConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Kafka consumer...")
		if c.cancel != nil {
			c.cancel()
			<-c.doneChan
		} else {
			close(c.outputChan)
			c.markDone()
		}
	})
	return nil
}

// Close stops the consumer if needed and closes the reader. Acks arriving
// after Close can no longer be committed.
func (c *KafkaConsumer) Close() error {
	_ = c.Stop()
	var closeErr error
	c.closeOnce.Do(func() {
		if err := c.reader.Close(); err != nil {
			closeErr = fmt.Errorf("closing kafka reader: %w", err)
		}
	})
	return closeErr
}

// Done is closed when the consumer has fully stopped.
func (c *KafkaConsumer) Done() <-chan struct{} { return c.doneChan }

func (c *KafkaConsumer) markDone() {
	c.doneOnce.Do(func() { close(c.doneChan) })
}
