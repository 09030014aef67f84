package messagepipeline

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LogResultSink only logs a summary of each result. It is the fallback when
// no other sink is configured.
type LogResultSink struct {
	logger zerolog.Logger
}

// NewLogResultSink creates a LogResultSink.
func NewLogResultSink(logger zerolog.Logger) *LogResultSink {
	return &LogResultSink{logger: logger.With().Str("component", "LogResultSink").Logger()}
}

func (s *LogResultSink) Write(_ context.Context, result *catfeed.Result) error {
	s.logger.Info().Int("cat_count", len(result.Cats)).Msg("Batch result produced.")
	return nil
}

func (s *LogResultSink) Close() error { return nil }

// MultiSink writes each result to every sink concurrently. A write fails if
// any sink fails.
type MultiSink struct {
	sinks []ResultSink
}

// NewMultiSink combines sinks. With a single sink it returns that sink as-is.
func NewMultiSink(sinks ...ResultSink) ResultSink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, result *catfeed.Result) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			return sink.Write(gctx, result)
		})
	}
	return g.Wait()
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
