package learning_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/learning"
	"github.com/wavecore/botdetect/internal/logging"
)

type recordingHandler struct {
	mu     sync.Mutex
	name   string
	types  []learning.EventType
	events []learning.Event
}

func (h *recordingHandler) Name() string               { return h.name }
func (h *recordingHandler) Types() []learning.EventType { return h.types }
func (h *recordingHandler) HandleBatch(_ context.Context, events []learning.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}
func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestBus_Publish_AssignsIDWhenMissing(t *testing.T) {
	bus := learning.New(10, 100, time.Hour, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.UserFeedback}}
	bus.Subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	bus.Publish(learning.Event{Type: learning.UserFeedback})

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, h.events[0].ID)
}

func TestBus_Publish_DropsWhenQueueFull(t *testing.T) {
	bus := learning.New(1, 100, time.Hour, logging.NoOpLogger{})
	// no Start() call: nothing drains the queue, so it fills immediately
	bus.Publish(learning.Event{Type: learning.UserFeedback})
	bus.Publish(learning.Event{Type: learning.UserFeedback})
	bus.Publish(learning.Event{Type: learning.UserFeedback})

	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBus_FlushesOnBatchSize(t *testing.T) {
	bus := learning.New(100, 3, time.Hour, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.UserFeedback}}
	bus.Subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	for i := 0; i < 3; i++ {
		bus.Publish(learning.Event{Type: learning.UserFeedback})
	}

	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBus_FlushesOnIdleTimer(t *testing.T) {
	bus := learning.New(100, 1000, 20*time.Millisecond, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.UserFeedback}}
	bus.Subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	bus.Publish(learning.Event{Type: learning.UserFeedback})

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_HandlerOnlyReceivesSubscribedTypes(t *testing.T) {
	bus := learning.New(100, 1, time.Hour, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.DriftDetected}}
	bus.Subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	bus.Publish(learning.Event{Type: learning.UserFeedback})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestBus_Shutdown_DrainsBeforeReturning(t *testing.T) {
	bus := learning.New(100, 1000, time.Hour, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.UserFeedback}}
	bus.Subscribe(h)

	bus.Start(context.Background())
	bus.Publish(learning.Event{Type: learning.UserFeedback})

	bus.Shutdown(time.Second)
	assert.Equal(t, 1, h.count())
}
