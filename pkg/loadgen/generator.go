package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Source is one simulated producer of cat messages.
type Source struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
}

// LoadGenerator publishes messages for each source at its rate until the run
// duration elapses.
type LoadGenerator struct {
	client  Client
	sources []*Source
	logger  zerolog.Logger
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(client Client, sources []*Source, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:  client,
		sources: sources,
		logger:  logger.With().Str("component", "LoadGenerator").Logger(),
	}
}

// Run publishes for duration and returns the number of messages sent.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int64, error) {
	lg.logger.Info().Int("num_sources", len(lg.sources)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return 0, err
	}
	defer lg.client.Disconnect()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var sent atomic.Int64
	var wg sync.WaitGroup
	for _, source := range lg.sources {
		wg.Add(1)
		go func(s *Source) {
			defer wg.Done()
			lg.runSource(ctx, s, &sent)
		}(source)
	}
	wg.Wait()

	lg.logger.Info().Int64("messages_sent", sent.Load()).Msg("Load generator finished")
	return sent.Load(), nil
}

func (lg *LoadGenerator) runSource(ctx context.Context, source *Source, sent *atomic.Int64) {
	if source.MessageRate <= 0 {
		lg.logger.Warn().Str("source_id", source.ID).Msg("Source has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / source.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lg.client.Publish(ctx, source); err != nil {
				if ctx.Err() == nil {
					lg.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to publish message")
				}
				continue
			}
			sent.Add(1)
		}
	}
}
