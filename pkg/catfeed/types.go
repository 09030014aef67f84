package catfeed

import (
	"encoding/json"
	"fmt"
)

// Item is a single cat record. It is kept as an open map so that fields other
// than color and name survive the round trip untouched.
type Item map[string]any

// Color returns the cat's color as it should appear in the diagnostic line.
func (i Item) Color() string { return i.field("color") }

// Name returns the cat's name as it should appear in the diagnostic line.
func (i Item) Name() string { return i.field("name") }

// field renders a value the way a loosely typed runtime would: absent keys
// become "undefined", non-string values are printed with their default format.
func (i Item) field(key string) string {
	v, ok := i[key]
	if !ok {
		return "undefined"
	}
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MessageValue is the payload carried by a Message.
type MessageValue struct {
	Cats []Item `json:"cats"`
}

// Message is one unit of a batch. Broker metadata is optional and is carried
// through for logging only.
type Message struct {
	Value *MessageValue `json:"value"`

	Topic     string `json:"topic,omitempty"`
	Partition int    `json:"partition,omitempty"`
	Offset    int64  `json:"offset,omitempty"`
	Key       string `json:"key,omitempty"`
}

// UnmarshalJSON decodes value strictly and the broker metadata best-effort:
// a metadata field of an unexpected type is dropped rather than failing the
// message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value     *MessageValue   `json:"value"`
		Topic     json.RawMessage `json:"topic"`
		Partition json.RawMessage `json:"partition"`
		Offset    json.RawMessage `json:"offset"`
		Key       json.RawMessage `json:"key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		Value:     raw.Value,
		Topic:     metaString(raw.Topic),
		Partition: int(metaInt(raw.Partition)),
		Offset:    metaInt(raw.Offset),
		Key:       metaString(raw.Key),
	}
	return nil
}

// metaString accepts a JSON string or number.
func metaString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// metaInt accepts a JSON integer or a string holding one.
func metaInt(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	i, err := n.Int64()
	if err != nil {
		return 0
	}
	return i
}

// Params is the invocation envelope.
type Params struct {
	Messages []*Message `json:"messages"`
}

// Result holds every cat from a batch, flattened in batch then item order.
type Result struct {
	Cats []Item `json:"cats"`
}
