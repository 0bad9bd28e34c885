package learning_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wavecore/botdetect/internal/learning"
	"github.com/wavecore/botdetect/internal/logging"
)

func labelEvent(isBot bool) learning.Event {
	b := isBot
	return learning.Event{Type: learning.ResponseFeedback, Label: &b, Timestamp: time.Unix(0, 0)}
}

func TestDriftDetector_NoPublishBelowHalfWindow(t *testing.T) {
	bus := learning.New(1, 1000, time.Hour, logging.NoOpLogger{})
	// no Start() call: a filler event occupies the only queue slot, so any
	// DriftDetected publish would be dropped and counted.
	bus.Publish(learning.Event{Type: learning.UserFeedback})
	d := learning.NewDriftDetector(bus)

	events := make([]learning.Event, 10)
	for i := range events {
		events[i] = labelEvent(i%2 == 0)
	}
	d.HandleBatch(context.Background(), events)

	assert.Equal(t, uint64(0), bus.Dropped())
}

func TestDriftDetector_PublishesWhenRatesDiverge(t *testing.T) {
	bus := learning.New(1000, 1, time.Hour, logging.NoOpLogger{})
	h := &recordingHandler{name: "h", types: []learning.EventType{learning.DriftDetected}}
	bus.Subscribe(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	d := learning.NewDriftDetector(bus)

	// Fill the long window (5000+ events, half of 10000) with an all-bot
	// history, then add 600 non-bot events: the short window (last 1000)
	// then has a bot-rate of 0.4 against the long window's 6000/6600 ≈ 0.91,
	// well past the 0.005 threshold.
	long := make([]learning.Event, 6000)
	for i := range long {
		long[i] = labelEvent(true)
	}
	d.HandleBatch(context.Background(), long)

	short := make([]learning.Event, 600)
	for i := range short {
		short[i] = labelEvent(false)
	}
	d.HandleBatch(context.Background(), short)

	assert.Eventually(t, func() bool { return h.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestDriftDetector_Name(t *testing.T) {
	d := learning.NewDriftDetector(learning.New(10, 10, time.Hour, logging.NoOpLogger{}))
	assert.Equal(t, "drift", d.Name())
}

func TestDriftDetector_SubscribesToDetectionAndFeedback(t *testing.T) {
	d := learning.NewDriftDetector(learning.New(10, 10, time.Hour, logging.NoOpLogger{}))
	assert.ElementsMatch(t, []learning.EventType{learning.HighConfidenceDetection, learning.ResponseFeedback}, d.Types())
}
