package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
)

// ProcessingService pulls raw messages from a MessageConsumer, transforms them
// on a pool of workers and hands the results to a MessageProcessor.
type ProcessingService[T any] struct {
	numWorkers   int
	consumer     MessageConsumer
	processor    MessageProcessor[T]
	transformer  MessageTransformer[T]
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
	stopOnce     sync.Once
}

// NewProcessingService creates a new ProcessingService.
func NewProcessingService[T any](
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	transformer MessageTransformer[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("transformer cannot be nil")
	}
	if numWorkers <= 0 {
		numWorkers = 5
	}

	return &ProcessingService[T]{
		numWorkers:  numWorkers,
		consumer:    consumer,
		processor:   processor,
		transformer: transformer,
		logger:      logger.With().Str("service", "ProcessingService").Logger(),
	}, nil
}

// Start starts the processor, then the consumer, then the worker pool.
// Cancelling ctx has the same effect as calling Stop on the consumer side;
// Stop must still be called to flush the processor.
func (s *ProcessingService[T]) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting ProcessingService...")
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	// The processor must be ready before anything can reach it.
	s.processor.Start()

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		s.processor.Stop()
		s.shutdownFunc()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info().Msg("ProcessingService started successfully.")
	return nil
}

func (s *ProcessingService[T]) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker shutting down.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processConsumedMessage(msg, workerID)
		}
	}
}

func (s *ProcessingService[T]) processConsumedMessage(msg types.ConsumedMessage, workerID int) {
	s.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Transforming message")

	payload, skip, err := s.transformer(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		nack(msg)
		return
	}
	if skip {
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		ack(msg)
		return
	}

	batched := &types.BatchedMessage[T]{
		OriginalMessage: msg,
		Payload:         payload,
	}

	select {
	case s.processor.Input() <- batched:
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Payload sent to processor.")
	case <-s.shutdownCtx.Done():
		s.logger.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		nack(msg)
	}
}

// Stop shuts the service down: consumer first, then workers, then the
// processor so that it can flush whatever it is still holding. A consumer
// that also implements io.Closer is closed last.
func (s *ProcessingService[T]) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping ProcessingService...")
		if s.shutdownFunc != nil {
			s.shutdownFunc()
		}

		if err := s.consumer.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping message consumer.")
		}
		<-s.consumer.Done()
		s.logger.Info().Msg("Message consumer stopped.")

		s.wg.Wait()
		s.logger.Info().Msg("All processing workers completed.")

		s.processor.Stop()

		// Consumers that need to settle Acks from the final flush release
		// their connection only now.
		if closer, ok := s.consumer.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				s.logger.Error().Err(err).Msg("Error closing message consumer.")
			}
		}
		s.logger.Info().Msg("ProcessingService stopped gracefully.")
	})
}

func ack(msg types.ConsumedMessage) {
	if msg.Ack != nil {
		msg.Ack()
	}
}

func nack(msg types.ConsumedMessage) {
	if msg.Nack != nil {
		msg.Nack()
	}
}
