package types

// BatchedMessage links a raw ConsumedMessage with its decoded payload, so the
// final stage can work with typed data and still Ack/Nack the original.
type BatchedMessage[T any] struct {
	OriginalMessage ConsumedMessage
	Payload         *T
}

// AckAll acknowledges every message that has an Ack handler.
func AckAll[T any](msgs []*BatchedMessage[T]) {
	for _, m := range msgs {
		if m.OriginalMessage.Ack != nil {
			m.OriginalMessage.Ack()
		}
	}
}

// NackAll negatively acknowledges every message that has a Nack handler.
func NackAll[T any](msgs []*BatchedMessage[T]) {
	for _, m := range msgs {
		if m.OriginalMessage.Nack != nil {
			m.OriginalMessage.Nack()
		}
	}
}
