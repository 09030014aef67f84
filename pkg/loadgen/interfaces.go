package loadgen

import (
	"context"
)

// PayloadGenerator creates the payload for one message from a source.
type PayloadGenerator interface {
	GeneratePayload(source *Source) ([]byte, error)
}

// Client publishes generated messages.
type Client interface {
	Connect() error
	Disconnect()
	// Publish generates the source's payload and sends it.
	Publish(ctx context.Context, source *Source) error
}
