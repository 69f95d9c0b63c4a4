package bridge_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
)

// ====================================================================================
// This file contains mocks for the interfaces defined in this package, for
// use in unit tests of the bridge pipeline.
// ====================================================================================

// --- MockNotificationConsumer ---

// MockNotificationConsumer simulates a change-notification source.
type MockNotificationConsumer struct {
	msgChan  chan bridge.Notification
	doneChan chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	startErr   error
	startCount int
	stopCount  int
}

// NewMockNotificationConsumer creates a new mock consumer with a buffered
// channel.
func NewMockNotificationConsumer(bufferSize int) *MockNotificationConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockNotificationConsumer{
		msgChan:  make(chan bridge.Notification, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockNotificationConsumer) Messages() <-chan bridge.Notification {
	return m.msgChan
}

func (m *MockNotificationConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockNotificationConsumer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

func (m *MockNotificationConsumer) Done() <-chan struct{} {
	return m.doneChan
}

// Push injects a notification into the mock consumer's channel.
func (m *MockNotificationConsumer) Push(n bridge.Notification) {
	m.msgChan <- n
}

// SetStartError configures the mock to return an error on Start().
func (m *MockNotificationConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockNotificationConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockNotificationConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// --- MockBroadcaster ---

// broadcastCall records one Broadcast invocation.
type broadcastCall struct {
	Topic   string
	Event   string
	Payload []byte
}

// MockBroadcaster records broadcasts in arrival order.
type MockBroadcaster struct {
	mu       sync.Mutex
	calls    []broadcastCall
	err      error
	signalCh chan struct{}
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

func (m *MockBroadcaster) Broadcast(_ context.Context, topic string, event string, payload []byte) error {
	m.mu.Lock()
	err := m.err
	if err == nil {
		payloadCopy := make([]byte, len(payload))
		copy(payloadCopy, payload)
		m.calls = append(m.calls, broadcastCall{Topic: topic, Event: event, Payload: payloadCopy})
	}
	signalCh := m.signalCh
	m.mu.Unlock()

	if signalCh != nil {
		select {
		case signalCh <- struct{}{}:
		default:
		}
	}
	return err
}

// Calls returns a copy of the recorded broadcasts.
func (m *MockBroadcaster) Calls() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	callsCopy := make([]broadcastCall, len(m.calls))
	copy(callsCopy, m.calls)
	return callsCopy
}

// TopicsInOrder returns just the topics of the recorded broadcasts.
func (m *MockBroadcaster) TopicsInOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, len(m.calls))
	for i, c := range m.calls {
		topics[i] = c.Topic
	}
	return topics
}

// SetError makes subsequent Broadcast calls fail without recording.
func (m *MockBroadcaster) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetBroadcastSignal sets a channel signaled on each recorded broadcast.
func (m *MockBroadcaster) SetBroadcastSignal(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalCh = ch
}
