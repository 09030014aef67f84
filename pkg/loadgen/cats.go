package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/messagepipeline"
)

var (
	catColors = []string{"black", "white", "grey", "ginger", "tabby", "calico", "tortoiseshell"}
	catNames  = []string{"Tom", "Snow", "Smoke", "Luna", "Milo", "Oliver", "Nala", "Simba", "Cleo", "Felix"}
)

// CatPayloadGenerator produces single messages holding 0..MaxCats random cats.
type CatPayloadGenerator struct {
	MaxCats int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewCatPayloadGenerator creates a generator with a fixed seed so runs are repeatable.
func NewCatPayloadGenerator(maxCats int, seed int64) *CatPayloadGenerator {
	if maxCats <= 0 {
		maxCats = 3
	}
	return &CatPayloadGenerator{MaxCats: maxCats, rnd: rand.New(rand.NewSource(seed))}
}

// GeneratePayload implements PayloadGenerator.
func (g *CatPayloadGenerator) GeneratePayload(source *Source) ([]byte, error) {
	g.mu.Lock()
	n := g.rnd.Intn(g.MaxCats + 1)
	cats := make([]catfeed.Item, n)
	for i := range cats {
		cats[i] = catfeed.Item{
			"color":  catColors[g.rnd.Intn(len(catColors))],
			"name":   catNames[g.rnd.Intn(len(catNames))],
			"source": source.ID,
		}
	}
	g.mu.Unlock()

	data, err := json.Marshal(catfeed.Message{Value: &catfeed.MessageValue{Cats: cats}})
	if err != nil {
		return nil, fmt.Errorf("marshal cat message: %w", err)
	}
	return data, nil
}

// PublisherClient adapts a SimplePublisher (e.g. a Pub/Sub topic) to Client.
type PublisherClient struct {
	publisher messagepipeline.SimplePublisher
}

// NewPublisherClient creates a Client publishing through p.
func NewPublisherClient(p messagepipeline.SimplePublisher) *PublisherClient {
	return &PublisherClient{publisher: p}
}

func (c *PublisherClient) Connect() error { return nil }

// Disconnect flushes the publisher.
func (c *PublisherClient) Disconnect() { c.publisher.Stop() }

// Publish generates and sends one message for source.
func (c *PublisherClient) Publish(ctx context.Context, source *Source) error {
	payload, err := source.PayloadGenerator.GeneratePayload(source)
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, payload, map[string]string{"source": source.ID})
}
