// Optional Redis-backed tier for Registry, mirroring the teacher's
// core/redis_registry.go / pkg/discovery/redis.go pattern: the in-memory
// LRU stays the hot path for the keyed sequential queue (package-private
// state a remote tier can't share), while a coordinator's externally
// useful summary — its last aberration score and recent window — is
// replicated to Redis so a peer instance handling the same signature hash
// behind a load balancer can warm-start instead of starting cold.
package signature

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDB isolates signature snapshots from the framework's other reserved
// Redis databases, per the teacher's core.RedisClient DB-allocation scheme.
const RedisDB = 5

const redisKeyPrefix = "botdetect:signature:"

// snapshot is the Redis wire shape for a coordinator's externally relevant
// state. The per-key sequential queue and signal sink are process-local and
// are not replicated.
type snapshot struct {
	LastAberration float64            `json:"last_aberration"`
	Window         []OperationSummary `json:"window"`
}

// RedisBackend replicates signature coordinator snapshots to Redis and
// warms newly created coordinators from any snapshot a peer instance left
// behind. A Registry works without a RedisBackend; wiring one in only adds
// cross-instance continuity, never a correctness requirement.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend builds a RedisBackend from redisURL. ttl bounds how long
// a snapshot survives in Redis, independent of the local Registry's TTL.
func NewRedisBackend(redisURL string, ttl time.Duration) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.DB = RedisDB
	client := redis.NewClient(opt)

	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

// Warm loads any existing snapshot for hash into a freshly created
// coordinator. Call immediately after Registry.GetOrCreate on a hash this
// process has not seen before.
func (rb *RedisBackend) Warm(ctx context.Context, c *Coordinator) {
	raw, err := rb.client.Get(ctx, redisKeyPrefix+c.signatureHash).Result()
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return
	}
	c.mu.Lock()
	c.lastAberration = snap.LastAberration
	c.window = snap.Window
	c.mu.Unlock()
}

// Replicate persists c's current snapshot to Redis. Intended to be called
// after a Manager finishes processing a summary for c, and from a
// Registry.OnEvict callback so the last-known state survives eviction.
func (rb *RedisBackend) Replicate(ctx context.Context, c *Coordinator) {
	c.mu.Lock()
	snap := snapshot{LastAberration: c.lastAberration, Window: append([]OperationSummary(nil), c.window...)}
	hash := c.signatureHash
	c.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = rb.client.Set(ctx, redisKeyPrefix+hash, raw, rb.ttl).Err()
}

// Close releases the underlying Redis client.
func (rb *RedisBackend) Close() error {
	return rb.client.Close()
}
