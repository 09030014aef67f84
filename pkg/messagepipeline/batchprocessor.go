package messagepipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
)

// CatBatchProcessorConfig holds configuration for the CatBatchProcessor.
type CatBatchProcessorConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c CatBatchProcessorConfig) withDefaults() CatBatchProcessorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

// CatBatchProcessor implements MessageProcessor[catfeed.Message]. It groups
// incoming messages into a batch, flattens the batch with a catfeed.Processor
// and writes the Result to a ResultSink.
type CatBatchProcessor struct {
	config       CatBatchProcessorConfig
	processor    *catfeed.Processor
	sink         ResultSink
	logger       zerolog.Logger
	inputChan    chan *types.BatchedMessage[catfeed.Message]
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewCatBatchProcessor creates a CatBatchProcessor.
func NewCatBatchProcessor(
	config CatBatchProcessorConfig,
	processor *catfeed.Processor,
	sink ResultSink,
	logger zerolog.Logger,
) (*CatBatchProcessor, error) {
	if processor == nil {
		return nil, errors.New("cat processor cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("result sink cannot be nil")
	}
	config = config.withDefaults()
	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	return &CatBatchProcessor{
		config:       config,
		processor:    processor,
		sink:         sink,
		logger:       logger.With().Str("component", "CatBatchProcessor").Logger(),
		inputChan:    make(chan *types.BatchedMessage[catfeed.Message], config.BatchSize*2),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}, nil
}

// Input returns the channel to which decoded messages should be sent.
func (b *CatBatchProcessor) Input() chan<- *types.BatchedMessage[catfeed.Message] {
	return b.inputChan
}

// Start begins the batching worker.
func (b *CatBatchProcessor) Start() {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_timeout", b.config.FlushTimeout).
		Msg("Starting CatBatchProcessor worker...")
	b.wg.Add(1)
	go b.worker()
}

// Stop flushes any buffered messages and closes the sink. Nothing may be
// sent on Input after Stop is called.
func (b *CatBatchProcessor) Stop() {
	b.logger.Info().Msg("Stopping CatBatchProcessor...")
	close(b.inputChan)
	b.wg.Wait()
	b.shutdownFunc()
	if err := b.sink.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing result sink")
	}
	b.logger.Info().Msg("CatBatchProcessor stopped.")
}

func (b *CatBatchProcessor) worker() {
	defer b.wg.Done()
	batch := make([]*types.BatchedMessage[catfeed.Message], 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-b.inputChan:
			if !ok {
				b.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= b.config.BatchSize {
				b.flush(batch)
				batch = make([]*types.BatchedMessage[catfeed.Message], 0, b.config.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = make([]*types.BatchedMessage[catfeed.Message], 0, b.config.BatchSize)
			}
		}
	}
}

// flush processes one batch and Acks or Nacks every message in it together.
func (b *CatBatchProcessor) flush(batch []*types.BatchedMessage[catfeed.Message]) {
	if len(batch) == 0 {
		return
	}

	params := &catfeed.Params{Messages: make([]*catfeed.Message, len(batch))}
	for i, msg := range batch {
		params.Messages[i] = msg.Payload
	}

	result, err := b.processor.Process(params)
	if err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to process batch, Nacking messages.")
		types.NackAll(batch)
		return
	}

	ctx, cancel := context.WithTimeout(b.shutdownCtx, b.config.WriteTimeout)
	defer cancel()

	if err := b.sink.Write(ctx, result); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write result, Nacking messages.")
		types.NackAll(batch)
		return
	}

	b.logger.Info().Int("batch_size", len(batch)).Int("cat_count", len(result.Cats)).Msg("Successfully flushed batch, Acking messages.")
	types.AckAll(batch)
}
