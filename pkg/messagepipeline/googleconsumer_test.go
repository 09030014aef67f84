package messagepipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
//  Test Helpers
// =============================================================================

// setupTestPubsub starts a pstest.Server, creates topicID and (when subID is
// set) a subscription on it. It returns options for connecting more clients.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, []option.ClientOption) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	if subID != "" {
		_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = srv.Close()
	})
	return client, opts
}

// =============================================================================
//  Test Cases
// =============================================================================

func TestGooglePubsubConsumerConfig_ApplyEnv(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "test-project")
	t.Setenv("PUBSUB_SUBSCRIPTION_ID", "test-sub")
	t.Setenv("GCP_PUBSUB_CREDENTIALS_FILE", "")
	t.Setenv("PUBSUB_MAX_OUTSTANDING_MESSAGES", "not-a-number")

	cfg := &GooglePubsubConsumerConfig{ProjectID: "file-project", CredentialsFile: "/creds.json", MaxOutstandingMessages: 100}
	cfg.ApplyEnv()

	assert.Equal(t, "test-project", cfg.ProjectID)
	assert.Equal(t, "test-sub", cfg.SubscriptionID)
	assert.Equal(t, "/creds.json", cfg.CredentialsFile, "unset variables keep the existing value")
	assert.Equal(t, 100, cfg.MaxOutstandingMessages, "unparseable numbers are ignored")

	t.Setenv("PUBSUB_MAX_OUTSTANDING_MESSAGES", "300")
	cfg.ApplyEnv()
	assert.Equal(t, 300, cfg.MaxOutstandingMessages)
}

func TestGooglePubsubResultSinkConfig_ApplyEnv(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "")
	t.Setenv("PUBSUB_RESULT_TOPIC_ID", "cats-out")

	cfg := &GooglePubsubResultSinkConfig{ProjectID: "file-project"}
	cfg.ApplyEnv()

	assert.Equal(t, "file-project", cfg.ProjectID)
	assert.Equal(t, "cats-out", cfg.TopicID)
}

func TestNewGooglePubsubConsumer_SubscriptionNotFound(t *testing.T) {
	_, opts := setupTestPubsub(t, "test-project", "test-topic", "")

	cfg := &GooglePubsubConsumerConfig{ProjectID: "test-project", SubscriptionID: "missing-sub"}
	_, err := NewGooglePubsubConsumer(context.Background(), cfg, opts, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestGooglePubsubConsumer_ReceivesMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, opts := setupTestPubsub(t, "test-project", "cats-in", "cats-in-sub")

	cfg := &GooglePubsubConsumerConfig{ProjectID: "test-project", SubscriptionID: "cats-in-sub", MaxOutstandingMessages: 10}
	consumer, err := NewGooglePubsubConsumer(ctx, cfg, opts, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))

	payload := []byte(`{"value":{"cats":[{"color":"black","name":"Tom"}]}}`)
	res := client.Topic("cats-in").Publish(ctx, &pubsub.Message{Data: payload, Attributes: map[string]string{"key": "k1"}})
	_, err = res.Get(ctx)
	require.NoError(t, err)

	select {
	case msg := <-consumer.Messages():
		assert.Equal(t, payload, msg.Payload)
		assert.Equal(t, "k1", msg.Attributes["key"])
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, consumer.Stop())
	<-consumer.Done()
}

func TestGooglePubsubResultSink_Write(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := setupTestPubsub(t, "test-project", "cats-out", "cats-out-sub")

	sink, err := NewGooglePubsubResultSink(ctx, client, &GooglePubsubResultSinkConfig{ProjectID: "test-project", TopicID: "cats-out"}, zerolog.Nop())
	require.NoError(t, err)

	result := &catfeed.Result{Cats: []catfeed.Item{{"color": "white", "name": "Snow"}}}
	require.NoError(t, sink.Write(ctx, result))

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	var got *catfeed.Result
	err = client.Subscription("cats-out-sub").Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
		msg.Ack()
		var r catfeed.Result
		if json.Unmarshal(msg.Data, &r) == nil {
			got = &r
		}
		receiveCancel()
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Snow", got.Cats[0]["name"])

	require.NoError(t, sink.Close())
}

func TestNewGooglePubsubResultSink_TopicMissing(t *testing.T) {
	client, _ := setupTestPubsub(t, "test-project", "other-topic", "")

	_, err := NewGooglePubsubResultSink(context.Background(), client, &GooglePubsubResultSinkConfig{TopicID: "absent"}, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestGoogleSimplePublisher_Publish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := setupTestPubsub(t, "test-project", "dead-letter", "dead-letter-sub")

	pub, err := NewGoogleSimplePublisher(client, "dead-letter", zerolog.Nop())
	require.NoError(t, err)
	defer pub.Stop()

	require.NoError(t, pub.Publish(ctx, []byte("{"), map[string]string{"error": "bad json"}))

	_, err = NewGoogleSimplePublisher(nil, "dead-letter", zerolog.Nop())
	assert.Error(t, err)
}
