// Package config loads catfeed configuration from a YAML file and applies
// environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/action"
	"github.com/illmade-knight/go-catfeed/pkg/bqstore"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/icestore"
	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
	"gopkg.in/yaml.v3"
)

// Supported pipeline sources.
const (
	SourcePubsub = "pubsub"
	SourceKafka  = "kafka"
)

// Config is the top-level catfeed configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Validation is "all" (default) or "first".
	Validation string `yaml:"validation"`

	Server   action.ServerConfig `yaml:"server"`
	Pipeline PipelineConfig      `yaml:"pipeline"`
	Loadgen  LoadgenConfig       `yaml:"loadgen"`
}

// PipelineConfig configures the consume command.
type PipelineConfig struct {
	Source            string                                     `yaml:"source"`
	NumWorkers        int                                        `yaml:"num_workers"`
	DeadLetterTopicID string                                     `yaml:"dead_letter_topic_id"`
	Batch             messagepipeline.CatBatchProcessorConfig    `yaml:"batch"`
	Pubsub            messagepipeline.GooglePubsubConsumerConfig `yaml:"pubsub"`
	Kafka             messagepipeline.KafkaConsumerConfig        `yaml:"kafka"`
	Sinks             SinksConfig                                `yaml:"sinks"`
}

// SinksConfig lists the result destinations. A nil entry is disabled.
type SinksConfig struct {
	Log      bool                                          `yaml:"log"`
	Pubsub   *messagepipeline.GooglePubsubResultSinkConfig `yaml:"pubsub"`
	Kafka    *messagepipeline.KafkaResultSinkConfig        `yaml:"kafka"`
	GCS      *icestore.GCSResultArchiverConfig             `yaml:"gcs"`
	BigQuery *bqstore.BigQueryDatasetConfig                `yaml:"bigquery"`
}

// LoadgenConfig configures the loadgen command.
type LoadgenConfig struct {
	ProjectID string        `yaml:"project_id"`
	TopicID   string        `yaml:"topic_id"`
	Sources   int           `yaml:"sources"`
	Rate      float64       `yaml:"rate"`
	MaxCats   int           `yaml:"max_cats"`
	Duration  time.Duration `yaml:"duration"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		LogFormat:  "auto",
		Validation: "all",
		Server:     action.ServerConfig{Addr: ":8080"},
		Pipeline: PipelineConfig{
			Source:     SourcePubsub,
			NumWorkers: 5,
			Batch: messagepipeline.CatBatchProcessorConfig{
				BatchSize:    50,
				FlushTimeout: time.Second,
			},
			Pubsub: messagepipeline.GooglePubsubConsumerConfig{MaxOutstandingMessages: 100},
			Kafka:  messagepipeline.KafkaConsumerConfig{GroupID: "catfeed", StartOffset: "latest"},
			Sinks:  SinksConfig{Log: true},
		},
		Loadgen: LoadgenConfig{Sources: 1, Rate: 1, MaxCats: 3, Duration: time.Minute},
	}
}

// LoadConfig reads path (when non-empty) over the defaults and then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv() {
	setString(&c.LogLevel, "CATFEED_LOG_LEVEL")
	setString(&c.Validation, "CATFEED_VALIDATION")
	setString(&c.Server.Addr, "CATFEED_HTTP_ADDR")

	p := &c.Pipeline
	setString(&p.Source, "CATFEED_SOURCE")
	setString(&p.DeadLetterTopicID, "PUBSUB_DEAD_LETTER_TOPIC_ID")
	if v, err := strconv.Atoi(os.Getenv("CATFEED_NUM_WORKERS")); err == nil && v > 0 {
		p.NumWorkers = v
	}

	p.Pubsub.ApplyEnv()
	p.Kafka.ApplyEnv()

	// A sink is switched on by its identifying variable and otherwise
	// inherits the source's project or brokers.
	if os.Getenv("PUBSUB_RESULT_TOPIC_ID") != "" && p.Sinks.Pubsub == nil {
		p.Sinks.Pubsub = &messagepipeline.GooglePubsubResultSinkConfig{}
	}
	if s := p.Sinks.Pubsub; s != nil {
		s.ApplyEnv()
		if s.ProjectID == "" {
			s.ProjectID = p.Pubsub.ProjectID
		}
	}
	if os.Getenv("KAFKA_RESULT_TOPIC") != "" && p.Sinks.Kafka == nil {
		p.Sinks.Kafka = &messagepipeline.KafkaResultSinkConfig{}
	}
	if s := p.Sinks.Kafka; s != nil {
		s.ApplyEnv()
		if len(s.Brokers) == 0 {
			s.Brokers = p.Kafka.Brokers
		}
	}
	if os.Getenv("GCS_ARCHIVE_BUCKET") != "" && p.Sinks.GCS == nil {
		p.Sinks.GCS = &icestore.GCSResultArchiverConfig{}
	}
	if s := p.Sinks.GCS; s != nil {
		s.ApplyEnv()
	}
	if os.Getenv("BQ_DATASET_ID") != "" && p.Sinks.BigQuery == nil {
		p.Sinks.BigQuery = &bqstore.BigQueryDatasetConfig{}
	}
	if s := p.Sinks.BigQuery; s != nil {
		s.ApplyEnv()
		if s.ProjectID == "" {
			s.ProjectID = p.Pubsub.ProjectID
		}
	}

	if c.Loadgen.ProjectID == "" {
		c.Loadgen.ProjectID = p.Pubsub.ProjectID
	}
	setString(&c.Loadgen.TopicID, "LOADGEN_TOPIC_ID")
}

// ValidationMode returns the parsed validation mode.
func (c *Config) ValidationMode() (catfeed.ValidationMode, error) {
	return catfeed.ParseValidationMode(c.Validation)
}

// ValidatePipeline checks the fields the consume command needs.
func (c *Config) ValidatePipeline() error {
	if _, err := c.ValidationMode(); err != nil {
		return err
	}
	p := c.Pipeline
	switch p.Source {
	case SourcePubsub:
		if p.Pubsub.ProjectID == "" || p.Pubsub.SubscriptionID == "" {
			return errors.New("pubsub source requires project_id and subscription_id")
		}
	case SourceKafka:
		if err := p.Kafka.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown pipeline source %q", p.Source)
	}
	if p.Sinks.BigQuery != nil {
		if err := p.Sinks.BigQuery.Validate(); err != nil {
			return err
		}
	}
	if !p.Sinks.Log && p.Sinks.Pubsub == nil && p.Sinks.Kafka == nil && p.Sinks.GCS == nil && p.Sinks.BigQuery == nil {
		return errors.New("at least one result sink must be configured")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
