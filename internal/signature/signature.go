// Package signature implements the per-signature coordinator: a keyed,
// sequential work queue that carries operation summaries from short-lived
// requests into a long-lived scope for aberration detection and reputation
// feedback. The bounded LRU-with-TTL registry is grounded on the teacher's
// pkg/discovery.RedisDiscovery local fallback cache and pkg/routing's
// prompt-keyed cache (pkg/discovery/redis.go, pkg/routing/cache.go): a
// capacity-bounded map with sliding TTL, evicted entries simply dropped —
// "intentional ephemerality, not a bug" per spec.md §9.
package signature

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/wavecore/botdetect/internal/signal"
)

// OperationSummary is the PII-scrubbed per-request rollup handed from the
// operation tier to the signature tier, spec.md §3.1.
type OperationSummary struct {
	SignatureHash        string
	RequestID            string
	Timestamp            time.Time
	Path                 string
	Method               string
	StatusCode           int
	RequestBotProbability float64
	ResponseScore        *float64
	ProcessingTime       time.Duration
	TriggerSignals       map[string]interface{}
}

// Default bounds, spec.md §4.4.2 / §5.
const (
	DefaultMaxSignatures           = 5000
	DefaultSignatureTTL            = 30 * time.Minute
	DefaultMaxRequestsPerSignature = 100
	DefaultPerKeyQueueBound        = 100
	MinRequestsForAberration       = 5
	MinWindowForSpectral           = 9
)

// HashSignature computes a non-reversible HMAC-keyed digest of the
// canonical (ua_shape, client_ip, fingerprint) tuple, spec.md §4.4.1. The
// raw IP participates in the hash but is never retained elsewhere.
func HashSignature(key []byte, uaShape UAShape, clientIP string, fingerprintHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(uaShape.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(clientIP))
	mac.Write([]byte{0})
	mac.Write([]byte(fingerprintHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// LengthBucket classifies a UA string's length for fast-path shape matching.
type LengthBucket string

const (
	LengthShort  LengthBucket = "short"
	LengthNormal LengthBucket = "normal"
	LengthLong   LengthBucket = "long"
)

// UAShape is the normalized (family, platform, length_bucket) tuple used
// for O(1) lookup against known-bad reputations, spec.md §4.4.1.
type UAShape struct {
	Family       string
	Platform     string
	LengthBucket LengthBucket
}

func (s UAShape) String() string {
	return s.Family + "+" + s.Platform + "+" + string(s.LengthBucket)
}

// BucketIP reduces an IP to a /24 (IPv4) or /48 (IPv6) for reputation
// lookups, spec.md §4.4.1.
func BucketIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String() + "/24"
	}
	mask := net.CIDRMask(48, 128)
	return parsed.Mask(mask).String() + "/48"
}

// Coordinator is the per-signature long-lived object: a sliding window of
// operation summaries, a signature-scoped signal sink, and its last
// aberration score.
type Coordinator struct {
	mu             sync.Mutex
	signatureHash  string
	window         []OperationSummary
	maxWindow      int
	sink           *signal.Sink
	lastAberration float64
}

func newCoordinator(signatureHash string, maxWindow int) *Coordinator {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxRequestsPerSignature
	}
	return &Coordinator{
		signatureHash: signatureHash,
		maxWindow:     maxWindow,
		sink:          signal.NewSignatureSink(),
	}
}

// Sink returns the signature-scoped signal sink.
func (c *Coordinator) Sink() *signal.Sink { return c.sink }

// Window returns a copy of the current sliding window, in arrival order.
func (c *Coordinator) Window() []OperationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OperationSummary, len(c.window))
	copy(out, c.window)
	return out
}

// LastAberrationScore returns the most recently computed aberration score.
func (c *Coordinator) LastAberrationScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAberration
}

// appendSummary appends to the sliding window, trimming to maxWindow,
// preserving arrival order (spec.md §4.4.3 step 1 / §5 "Ordering
// guarantees").
func (c *Coordinator) appendSummary(s OperationSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = append(c.window, s)
	if len(c.window) > c.maxWindow {
		c.window = c.window[len(c.window)-c.maxWindow:]
	}
}

func (c *Coordinator) setAberration(score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAberration = score
}

// registryEntry wraps a Coordinator with LRU bookkeeping.
type registryEntry struct {
	hash        string
	coordinator *Coordinator
	expiresAt   time.Time
	elem        *list.Element
}

// Registry is the bounded LRU of signature coordinators, spec.md §4.4.2.
// On lookup, a present entry has its TTL reset; eviction drops the
// coordinator and everything it owns.
type Registry struct {
	mu         sync.Mutex
	capacity   int
	ttl        time.Duration
	order      *list.List // front = most recently used
	entries    map[string]*registryEntry
	maxWindow  int
	now        func() time.Time
	onEvict    func(hash string, c *Coordinator)
}

// NewRegistry constructs a signature registry bounded at capacity entries
// with the given sliding TTL.
func NewRegistry(capacity int, ttl time.Duration, maxWindow int, nowFn func() time.Time) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxSignatures
	}
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		capacity:  capacity,
		ttl:       ttl,
		order:     list.New(),
		entries:   make(map[string]*registryEntry),
		maxWindow: maxWindow,
		now:       nowFn,
	}
}

// OnEvict registers a callback invoked (outside the registry lock) whenever
// an entry is evicted, for telemetry/learning hooks.
func (r *Registry) OnEvict(fn func(hash string, c *Coordinator)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// GetOrCreate returns the coordinator for hash, creating one if absent, and
// resets its TTL, spec.md §4.4.2.
func (r *Registry) GetOrCreate(hash string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	if e, ok := r.entries[hash]; ok {
		e.expiresAt = r.now().Add(r.ttl)
		r.order.MoveToFront(e.elem)
		return e.coordinator
	}

	c := newCoordinator(hash, r.maxWindow)
	e := &registryEntry{hash: hash, coordinator: c, expiresAt: r.now().Add(r.ttl)}
	e.elem = r.order.PushFront(e)
	r.entries[hash] = e

	if len(r.entries) > r.capacity {
		r.evictLRULocked()
	}
	return c
}

// Lookup returns the coordinator for hash without creating one.
func (r *Registry) Lookup(hash string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictExpiredLocked()
	e, ok := r.entries[hash]
	if !ok {
		return nil, false
	}
	e.expiresAt = r.now().Add(r.ttl)
	r.order.MoveToFront(e.elem)
	return e.coordinator, true
}

func (r *Registry) evictExpiredLocked() {
	now := r.now()
	for el := r.order.Back(); el != nil; {
		e := el.Value.(*registryEntry)
		prev := el.Prev()
		if now.After(e.expiresAt) {
			r.removeLocked(e)
		}
		el = prev
	}
}

func (r *Registry) evictLRULocked() {
	el := r.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*registryEntry)
	r.removeLocked(e)
}

func (r *Registry) removeLocked(e *registryEntry) {
	r.order.Remove(e.elem)
	delete(r.entries, e.hash)
	if r.onEvict != nil {
		cb, c := r.onEvict, e.coordinator
		go cb(e.hash, c)
	}
}

// Len returns the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
