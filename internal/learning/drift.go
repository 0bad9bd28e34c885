package learning

import (
	"context"
	"sync"
)

const (
	defaultShortWindow    = 1000
	defaultLongWindow     = 10000
	defaultDriftThreshold = 0.005
)

// DriftDetector keeps two trailing windows of observed bot-rate (a short
// window and a ten-times-longer one) and emits an internal DriftDetected
// event back onto the bus when they diverge by more than driftThreshold,
// SPEC_FULL.md §4.7.
type DriftDetector struct {
	mu             sync.Mutex
	short          []bool
	long           []bool
	shortCap       int
	longCap        int
	driftThreshold float64
	bus            *Bus
}

// NewDriftDetector constructs a detector posting back to bus.
func NewDriftDetector(bus *Bus) *DriftDetector {
	return &DriftDetector{
		shortCap:       defaultShortWindow,
		longCap:        defaultLongWindow,
		driftThreshold: defaultDriftThreshold,
		bus:            bus,
	}
}

func (d *DriftDetector) Name() string { return "drift" }

func (d *DriftDetector) Types() []EventType {
	return []EventType{HighConfidenceDetection, ResponseFeedback}
}

func (d *DriftDetector) HandleBatch(_ context.Context, events []Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range events {
		isBot := e.Label != nil && *e.Label
		d.short = push(d.short, isBot, d.shortCap)
		d.long = push(d.long, isBot, d.longCap)
	}

	if len(d.short) < d.shortCap/2 || len(d.long) < d.longCap/2 {
		return // not enough history yet for a meaningful comparison
	}

	shortRate := rateOf(d.short)
	longRate := rateOf(d.long)
	delta := shortRate - longRate
	if delta < 0 {
		delta = -delta
	}
	if delta > d.driftThreshold {
		d.bus.Publish(Event{
			Type: DriftDetected,
			Features: map[string]interface{}{
				"short_window_bot_rate": shortRate,
				"long_window_bot_rate":  longRate,
				"delta":                 delta,
			},
			Confidence: delta,
		})
	}
}

func push(xs []bool, v bool, cap int) []bool {
	xs = append(xs, v)
	if len(xs) > cap {
		xs = xs[len(xs)-cap:]
	}
	return xs
}

func rateOf(xs []bool) float64 {
	if len(xs) == 0 {
		return 0
	}
	n := 0
	for _, b := range xs {
		if b {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}
