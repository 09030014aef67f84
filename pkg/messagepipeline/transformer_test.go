package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-catfeed/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu         sync.Mutex
	payloads   [][]byte
	attributes []map[string]string
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte, attributes map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	p.attributes = append(p.attributes, attributes)
	return nil
}

func (p *recordingPublisher) Stop() {}

func TestCatMessageTransformer(t *testing.T) {
	t.Run("valid message", func(t *testing.T) {
		transform := messagepipeline.NewCatMessageTransformer(nil, zerolog.Nop())

		msg, skip, err := transform(types.ConsumedMessage{
			ID:         "m1",
			Payload:    []byte(`{"value":{"cats":[{"color":"black","name":"Tom"}]}}`),
			Attributes: map[string]string{"topic": "cats-in", "partition": "3", "offset": "99", "key": "k1"},
		})

		require.NoError(t, err)
		assert.False(t, skip)
		require.NotNil(t, msg)
		assert.Equal(t, "Tom", msg.Value.Cats[0]["name"])
		assert.Equal(t, "cats-in", msg.Topic)
		assert.Equal(t, 3, msg.Partition)
		assert.Equal(t, int64(99), msg.Offset)
		assert.Equal(t, "k1", msg.Key)
	})

	for name, payload := range map[string]string{
		"bad json":      `{`,
		"missing value": `{}`,
		"missing cats":  `{"value":{}}`,
		"null cat":      `{"value":{"cats":[null]}}`,
	} {
		t.Run(name+" is skipped and dead-lettered", func(t *testing.T) {
			dlq := &recordingPublisher{}
			transform := messagepipeline.NewCatMessageTransformer(dlq, zerolog.Nop())

			msg, skip, err := transform(types.ConsumedMessage{ID: "bad-1", Payload: []byte(payload)})

			require.NoError(t, err)
			assert.True(t, skip)
			assert.Nil(t, msg)
			require.Len(t, dlq.payloads, 1)
			assert.Equal(t, payload, string(dlq.payloads[0]))
			assert.Equal(t, "bad-1", dlq.attributes[0]["original_msg_id"])
			assert.NotEmpty(t, dlq.attributes[0]["error"])
		})
	}

	t.Run("dead-letter failure nacks", func(t *testing.T) {
		dlq := &recordingPublisher{err: errors.New("dlq down")}
		transform := messagepipeline.NewCatMessageTransformer(dlq, zerolog.Nop())

		_, skip, err := transform(types.ConsumedMessage{ID: "bad-2", Payload: []byte(`{}`)})

		assert.Error(t, err)
		assert.False(t, skip)
	})
}
