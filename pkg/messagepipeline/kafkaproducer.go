package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaResultSinkConfig holds configuration for the Kafka result sink.
type KafkaResultSinkConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ApplyEnv overrides fields from KAFKA_BROKERS and KAFKA_RESULT_TOPIC.
func (c *KafkaResultSinkConfig) ApplyEnv() {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_RESULT_TOPIC"); v != "" {
		c.Topic = v
	}
}

// kafkaWriter is the subset of *kafka.Writer the sink uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaResultSink writes each Result as one Kafka record.
type KafkaResultSink struct {
	writer kafkaWriter
	logger zerolog.Logger
}

// NewKafkaResultSink creates a sink that waits for all in-sync replicas.
func NewKafkaResultSink(cfg *KafkaResultSinkConfig, logger zerolog.Logger) (*KafkaResultSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka result sink requires brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.LeastBytes{},
	}
	return newKafkaResultSink(w, logger.With().Str("topic", cfg.Topic).Logger()), nil
}

func newKafkaResultSink(w kafkaWriter, logger zerolog.Logger) *KafkaResultSink {
	return &KafkaResultSink{
		writer: w,
		logger: logger.With().Str("component", "KafkaResultSink").Logger(),
	}
}

// Write sends the result as JSON.
func (s *KafkaResultSink) Write(ctx context.Context, result *catfeed.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: data, Time: time.Now()}); err != nil {
		return fmt.Errorf("write result to kafka: %w", err)
	}
	s.logger.Debug().Int("cat_count", len(result.Cats)).Msg("Result written.")
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaResultSink) Close() error {
	return s.writer.Close()
}
