package types

import (
	"time"
)

// ConsumedMessage is a raw message as received from a broker, before its
// payload has been decoded.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Attributes carries broker metadata (Pub/Sub attributes, Kafka headers,
	// topic/partition/offset).
	Attributes map[string]string
	// Ack is a function to call to acknowledge that the message has been
	// successfully processed.
	Ack func()
	// Nack is a function to call to signal that processing has failed and the
	// message should be redelivered.
	Nack func()
}
