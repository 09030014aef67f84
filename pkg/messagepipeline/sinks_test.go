package messagepipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSink(t *testing.T) {
	a, b := &mockResultSink{}, &mockResultSink{}
	sink := messagepipeline.NewMultiSink(a, b, messagepipeline.NewLogResultSink(zerolog.Nop()))
	result := &catfeed.Result{Cats: []catfeed.Item{{"color": "black", "name": "Tom"}}}

	require.NoError(t, sink.Write(context.Background(), result))
	assert.Len(t, a.Results(), 1)
	assert.Len(t, b.Results(), 1)

	require.NoError(t, sink.Close())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
}

func TestMultiSink_PropagatesFailure(t *testing.T) {
	failing := &mockResultSink{writeErr: errors.New("down")}
	sink := messagepipeline.NewMultiSink(&mockResultSink{}, failing)

	err := sink.Write(context.Background(), &catfeed.Result{})

	assert.EqualError(t, err, "down")
}

func TestNewMultiSink_Single(t *testing.T) {
	only := &mockResultSink{}
	assert.Same(t, only, messagepipeline.NewMultiSink(only))
}
