package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catfeed/pkg/loadgen"
	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
	"github.com/spf13/cobra"
)

func newLoadgenCmd(root *rootOptions) *cobra.Command {
	var (
		topicID  string
		rate     float64
		sources  int
		duration time.Duration
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Publish synthetic cat messages to a Pub/Sub topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			lc := cfg.Loadgen
			if topicID != "" {
				lc.TopicID = topicID
			}
			if cmd.Flags().Changed("rate") {
				lc.Rate = rate
			}
			if cmd.Flags().Changed("sources") {
				lc.Sources = sources
			}
			if cmd.Flags().Changed("duration") {
				lc.Duration = duration
			}
			if lc.ProjectID == "" || lc.TopicID == "" {
				return errors.New("loadgen requires a project id and a topic id")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := pubsub.NewClient(ctx, lc.ProjectID)
			if err != nil {
				return fmt.Errorf("pubsub.NewClient: %w", err)
			}
			defer client.Close()

			publisher, err := messagepipeline.NewGoogleSimplePublisher(client, lc.TopicID, logger)
			if err != nil {
				return err
			}

			gen := loadgen.NewCatPayloadGenerator(lc.MaxCats, seed)
			srcs := make([]*loadgen.Source, lc.Sources)
			for i := range srcs {
				srcs[i] = &loadgen.Source{ID: fmt.Sprintf("source-%d", i+1), MessageRate: lc.Rate, PayloadGenerator: gen}
			}

			sent, err := loadgen.NewLoadGenerator(loadgen.NewPublisherClient(publisher), srcs, logger).Run(ctx, lc.Duration)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d messages\n", sent)
			return nil
		},
	}
	cmd.Flags().StringVar(&topicID, "topic", "", "Pub/Sub topic to publish to (overrides config)")
	cmd.Flags().Float64Var(&rate, "rate", 1, "messages per second per source")
	cmd.Flags().IntVar(&sources, "sources", 1, "number of simulated sources")
	cmd.Flags().DurationVar(&duration, "duration", time.Minute, "how long to publish for")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed for generated cats")
	return cmd
}
