package messagepipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
)

// NewCatMessageTransformer decodes a broker payload into a catfeed.Message.
//
// A payload that can never be processed is dropped: it is forwarded to
// deadLetter (when non-nil) and skipped, so it gets Acked instead of being
// redelivered forever.
func NewCatMessageTransformer(deadLetter SimplePublisher, logger zerolog.Logger) MessageTransformer[catfeed.Message] {
	logger = logger.With().Str("component", "CatMessageTransformer").Logger()

	return func(msg types.ConsumedMessage) (*catfeed.Message, bool, error) {
		decoded, err := catfeed.DecodeMessage(msg.Payload)
		if err == nil {
			err = catfeed.ValidateMessage(decoded)
		}
		if err == nil {
			applyAttributes(decoded, msg.Attributes)
			return decoded, false, nil
		}

		reason := err.Error()
		var verr *catfeed.ValidationError
		if errors.As(err, &verr) {
			reason = verr.Detail()
		}
		logger.Warn().Str("msg_id", msg.ID).Str("reason", reason).Msg("Dropping unprocessable message.")

		if deadLetter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			attrs := map[string]string{"error": reason, "original_msg_id": msg.ID}
			if dlErr := deadLetter.Publish(ctx, msg.Payload, attrs); dlErr != nil {
				// Keep the message on the subscription rather than lose it.
				logger.Error().Err(dlErr).Str("msg_id", msg.ID).Msg("Failed to dead-letter message.")
				return nil, false, dlErr
			}
		}
		return nil, true, nil
	}
}

// applyAttributes fills broker metadata the payload did not carry itself.
func applyAttributes(m *catfeed.Message, attrs map[string]string) {
	if m.Topic == "" {
		m.Topic = attrs[AttrTopic]
	}
	if m.Key == "" {
		m.Key = attrs[AttrKey]
	}
	if p, err := strconv.Atoi(attrs[AttrPartition]); err == nil && m.Partition == 0 {
		m.Partition = p
	}
	if o, err := strconv.ParseInt(attrs[AttrOffset], 10, 64); err == nil && m.Offset == 0 {
		m.Offset = o
	}
}

// Attribute keys set by the consumers.
const (
	AttrTopic     = "topic"
	AttrKey       = "key"
	AttrPartition = "partition"
	AttrOffset    = "offset"
)
