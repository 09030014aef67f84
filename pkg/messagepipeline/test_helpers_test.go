package messagepipeline_test

import (
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/types"
)

// ====================================================================================
// Mocks for the interfaces defined in this package.
// ====================================================================================

// --- MockMessageConsumer ---

// MockMessageConsumer simulates a message source.
type MockMessageConsumer struct {
	msgChan    chan types.ConsumedMessage
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage { return m.msgChan }

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

// Stop closes the channels. Messages still buffered are Nacked, the way a
// broker would redeliver them.
func (m *MockMessageConsumer) Stop() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()

		close(m.msgChan)
		for msg := range m.msgChan {
			if msg.Nack != nil {
				msg.Nack()
			}
		}
		close(m.doneChan)
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) { m.msgChan <- msg }

func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// --- MockMessageProcessor ---

// MockMessageProcessor records every message it receives and optionally Acks it.
type MockMessageProcessor[T any] struct {
	InputChan    chan *types.BatchedMessage[T]
	received     []*types.BatchedMessage[T]
	mu           sync.Mutex
	wg           sync.WaitGroup
	startCount   int
	stopCount    int
	ackOnProcess bool
}

func NewMockMessageProcessor[T any](bufferSize int) *MockMessageProcessor[T] {
	return &MockMessageProcessor[T]{
		InputChan: make(chan *types.BatchedMessage[T], bufferSize),
	}
}

func (m *MockMessageProcessor[T]) Input() chan<- *types.BatchedMessage[T] { return m.InputChan }

func (m *MockMessageProcessor[T]) Start() {
	m.mu.Lock()
	m.startCount++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range m.InputChan {
			m.mu.Lock()
			m.received = append(m.received, msg)
			ackOnProcess := m.ackOnProcess
			m.mu.Unlock()
			if ackOnProcess && msg.OriginalMessage.Ack != nil {
				msg.OriginalMessage.Ack()
			}
		}
	}()
}

func (m *MockMessageProcessor[T]) Stop() {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	close(m.InputChan)
	m.wg.Wait()
}

func (m *MockMessageProcessor[T]) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageProcessor[T]) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

func (m *MockMessageProcessor[T]) GetReceived() []*types.BatchedMessage[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BatchedMessage[T], len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockMessageProcessor[T]) SetAckOnProcess(b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackOnProcess = b
}

// --- mockResultSink ---

type mockResultSink struct {
	mu       sync.Mutex
	results  []*catfeed.Result
	writeErr error
	closed   bool
}

func (s *mockResultSink) Write(_ context.Context, result *catfeed.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.results = append(s.results, result)
	return nil
}

func (s *mockResultSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("already closed")
	}
	s.closed = true
	return nil
}

func (s *mockResultSink) Results() []*catfeed.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*catfeed.Result, len(s.results))
	copy(out, s.results)
	return out
}

func (s *mockResultSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// --- messageState ---

// messageState tracks the Ack/Nack status for individual messages.
type messageState struct {
	mu         sync.Mutex
	ackCalled  bool
	nackCalled bool
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled = true
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled = true
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled
}

// consumed builds a ConsumedMessage wired to state.
func consumed(id string, payload string, state *messageState) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:      id,
		Payload: []byte(payload),
		Ack:     state.Ack,
		Nack:    state.Nack,
	}
}
