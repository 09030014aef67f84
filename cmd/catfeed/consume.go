package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catfeed/pkg/bqstore"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/config"
	"github.com/illmade-knight/go-catfeed/pkg/icestore"
	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

func newConsumeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume cat messages from Pub/Sub or Kafka and write flattened batches to the configured sinks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cfg, logger)
		},
	}
}

// runPipeline wires the pipeline and blocks until ctx is cancelled.
func runPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	p := cfg.Pipeline
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// One Pub/Sub client serves the dead-letter publisher and the result sink.
	var psClient *pubsub.Client
	getPubsubClient := func(projectID string) (*pubsub.Client, error) {
		if psClient != nil {
			return psClient, nil
		}
		var opts []option.ClientOption
		if p.Pubsub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(p.Pubsub.CredentialsFile))
		}
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		psClient = c
		cleanups = append(cleanups, func() { _ = c.Close() })
		return c, nil
	}

	sink, err := buildSinks(ctx, p.Sinks, getPubsubClient, &cleanups, logger)
	if err != nil {
		return err
	}

	mode, err := cfg.ValidationMode()
	if err != nil {
		return err
	}
	processor := catfeed.NewProcessor(catfeed.ProcessorConfig{Validation: mode}, logger)
	batcher, err := messagepipeline.NewCatBatchProcessor(p.Batch, processor, sink, logger)
	if err != nil {
		return err
	}

	var deadLetter messagepipeline.SimplePublisher
	if p.DeadLetterTopicID != "" {
		client, err := getPubsubClient(p.Pubsub.ProjectID)
		if err != nil {
			return err
		}
		dl, err := messagepipeline.NewGoogleSimplePublisher(client, p.DeadLetterTopicID, logger)
		if err != nil {
			return err
		}
		deadLetter = dl
		cleanups = append(cleanups, dl.Stop)
	}

	var consumer messagepipeline.MessageConsumer
	switch p.Source {
	case config.SourcePubsub:
		consumer, err = messagepipeline.NewGooglePubsubConsumer(ctx, &p.Pubsub, nil, logger)
	case config.SourceKafka:
		consumer, err = messagepipeline.NewKafkaConsumer(&p.Kafka, logger)
	default:
		err = fmt.Errorf("unknown pipeline source %q", p.Source)
	}
	if err != nil {
		return err
	}

	transformer := messagepipeline.NewCatMessageTransformer(deadLetter, logger)
	service, err := messagepipeline.NewProcessingService[catfeed.Message](p.NumWorkers, consumer, batcher, transformer, logger)
	if err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	service.Stop()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func buildSinks(
	ctx context.Context,
	cfg config.SinksConfig,
	getPubsubClient func(projectID string) (*pubsub.Client, error),
	cleanups *[]func(),
	logger zerolog.Logger,
) (messagepipeline.ResultSink, error) {
	var sinks []messagepipeline.ResultSink

	if cfg.Log {
		sinks = append(sinks, messagepipeline.NewLogResultSink(logger))
	}
	if cfg.Pubsub != nil {
		client, err := getPubsubClient(cfg.Pubsub.ProjectID)
		if err != nil {
			return nil, err
		}
		s, err := messagepipeline.NewGooglePubsubResultSink(ctx, client, cfg.Pubsub, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka != nil {
		s, err := messagepipeline.NewKafkaResultSink(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.GCS != nil {
		client, err := icestore.NewStorageClient(ctx, cfg.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		*cleanups = append(*cleanups, func() { _ = client.Close() })
		s, err := icestore.NewGCSResultArchiver(icestore.NewGCSClientAdapter(client), *cfg.GCS, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.BigQuery != nil {
		client, err := bqstore.NewProductionBigQueryClient(ctx, cfg.BigQuery, logger)
		if err != nil {
			return nil, err
		}
		*cleanups = append(*cleanups, func() { _ = client.Close() })
		s, err := bqstore.NewBigQueryResultInserter(ctx, client, cfg.BigQuery, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		return nil, errors.New("no result sinks configured")
	}
	return messagepipeline.NewMultiSink(sinks...), nil
}
