package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/types"
)

// ====================================================================================
// Core interfaces for the consume -> transform -> process pipeline.
// ====================================================================================

// MessageProcessor receives transformed messages. CatBatchProcessor is the
// implementation used by catfeed.
type MessageProcessor[T any] interface {
	// Input returns a write-only channel for sending transformed messages to the processor.
	Input() chan<- *types.BatchedMessage[T]
	// Start begins the processor's operations (e.g., its batching worker).
	Start()
	// Stop gracefully shuts down the processor, ensuring any buffered items are handled.
	Stop()
}

// MessageConsumer is a message source (Pub/Sub, Kafka).
type MessageConsumer interface {
	// Messages returns a read-only channel from which raw messages can be consumed.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// MessageTransformer turns a ConsumedMessage into a payload of type T.
//
// It returns the transformed payload, a boolean to indicate if the message
// should be skipped (and Acked), and an error if the message should be Nacked.
type MessageTransformer[T any] func(msg types.ConsumedMessage) (payload *T, skip bool, err error)

// ResultSink is the destination for a processed batch.
type ResultSink interface {
	Write(ctx context.Context, result *catfeed.Result) error
	Close() error
}
