// Package learning implements the background learning-event bus that
// decouples per-request detection from post-response reputation, weight,
// and drift updates. The bounded-channel-with-drop shape is grounded on the
// teacher's resilience.retry and telemetry packages' "never block the
// caller" posture (resilience/retry.go, telemetry/telemetry.go), generalized
// here to a pub/sub bus instead of a single retrying call.
package learning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/telemetry"
)

// EventType is the closed set of learning event kinds, spec.md §3.1.
type EventType string

const (
	HighConfidenceDetection EventType = "HighConfidenceDetection"
	PatternDiscovered       EventType = "PatternDiscovered"
	UserFeedback            EventType = "UserFeedback"
	DriftDetected           EventType = "DriftDetected"
	ResponseFeedback        EventType = "ResponseFeedback"
)

// Event is an immutable message posted to the bus, spec.md §3.1 / §6.4.
type Event struct {
	ID            string
	Type          EventType
	Timestamp     time.Time
	SignatureHash string
	Features      map[string]interface{}
	Confidence    float64
	Label         *bool
}

// Handler consumes a batch of events for the types it subscribed to.
type Handler interface {
	Name() string
	Types() []EventType
	HandleBatch(ctx context.Context, events []Event)
}

const (
	defaultQueueCapacity = 10000
	defaultBatchSize     = 100
	defaultFlushIdle     = 30 * time.Second
)

// Bus is the process-wide learning event bus. Publish is non-blocking: a
// full queue drops the event and increments Dropped rather than stalling
// the caller, spec.md §4.6 / §7.
type Bus struct {
	mu        sync.Mutex
	handlers  []Handler
	queue     chan Event
	dropped   atomic.Uint64
	batch     int
	flushIdle time.Duration
	logger    logging.Logger
	telemetry *telemetry.Provider

	stop chan struct{}
	done chan struct{}
}

// WithTelemetry attaches a telemetry.Provider so dropped events are
// recorded through the learning.events_dropped_total counter; nil-safe to
// omit.
func (b *Bus) WithTelemetry(p *telemetry.Provider) *Bus {
	b.telemetry = p
	return b
}

// New constructs a Bus with the given queue capacity, batch size, and
// idle-flush interval (spec.md §4.6 defaults: 100 / 30s, queue 10k per §5).
func New(queueCapacity, batchSize int, flushIdle time.Duration, logger logging.Logger) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushIdle <= 0 {
		flushIdle = defaultFlushIdle
	}
	return &Bus{
		queue:     make(chan Event, queueCapacity),
		batch:     batchSize,
		flushIdle: flushIdle,
		logger:    logging.Default(logger),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a handler. Call before Start.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event without blocking. If the queue is full, the
// event is dropped and Dropped() increments — "dropping or
// back-pressuring messages is preferable to stalling a request", spec.md
// §4.6.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	select {
	case b.queue <- e:
	default:
		b.dropped.Add(1)
		if b.telemetry != nil {
			b.telemetry.RecordEventsDropped(context.Background(), 1)
		}
		b.logger.Debug("learning bus full, dropping event", map[string]interface{}{"type": string(e.Type)})
	}
}

// TryPublish is an alias for Publish, named for parity with spec.md §9's
// "publish with timeout / try-publish / drop" vocabulary — this bus only
// implements the non-blocking try-publish variant, since a request-path
// caller should never block on telemetry.
func (b *Bus) TryPublish(e Event) { b.Publish(e) }

// Dropped returns the number of events dropped due to a full queue.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Start begins the background dispatch loop: one goroutine reads the
// queue, batches events per subscribed type, and flushes either when a
// batch fills or after flushIdle of inactivity.
func (b *Bus) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	byType := make(map[EventType][]Event)
	timer := time.NewTimer(b.flushIdle)
	defer timer.Stop()

	flush := func() {
		b.mu.Lock()
		handlers := append([]Handler(nil), b.handlers...)
		b.mu.Unlock()

		for _, h := range handlers {
			var matched []Event
			for _, t := range h.Types() {
				matched = append(matched, byType[t]...)
			}
			if len(matched) > 0 {
				h.HandleBatch(ctx, matched)
			}
		}
		for t := range byType {
			byType[t] = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-b.stop:
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case e := <-b.queue:
					byType[e.Type] = append(byType[e.Type], e)
				default:
					flush()
					return
				}
			}
		case e := <-b.queue:
			byType[e.Type] = append(byType[e.Type], e)
			total := 0
			for _, v := range byType {
				total += len(v)
			}
			if total >= b.batch {
				flush()
				timer.Reset(b.flushIdle)
			}
		case <-timer.C:
			flush()
			timer.Reset(b.flushIdle)
		}
	}
}

// Shutdown closes the bus, awaiting drain up to timeout before returning,
// per spec.md §9's "close the channel, await drain with a timeout, then
// abort".
func (b *Bus) Shutdown(timeout time.Duration) {
	close(b.stop)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("learning bus shutdown timed out waiting for drain", nil)
	}
}
