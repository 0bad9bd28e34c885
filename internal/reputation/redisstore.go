// Optional Redis-backed tier for Store, mirroring the teacher's
// core/redis_registry.go / pkg/discovery/redis.go pattern: an in-memory
// cache stays the hot path, Redis is consulted on miss and written through
// on update, so a restarted or newly-joined process instance can recover
// pattern reputations observed by its peers. Deployments without Redis use
// *Store directly; this file adds a tier behind it, not a replacement.
package reputation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDB isolates reputation keys from the framework's other reserved
// Redis databases, per the teacher's core.RedisClient DB-allocation scheme.
const RedisDB = 4

const redisKeyPrefix = "botdetect:reputation:"

// RedisStore layers a Store with a Redis-backed cross-instance tier. Reads
// consult the local Store first; on a local miss, Redis is checked and the
// result is warmed into the local Store before being returned. Writes go to
// the local Store and then to Redis best-effort within the same call,
// matching spec.md §5's framing of the reputation cache as a performance
// optimization, not a durability guarantee.
type RedisStore struct {
	local  *Store
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps local with a Redis client built from redisURL. ttl
// bounds how long a cached entry lives in Redis before expiring, independent
// of the local Store's own GC horizon.
func NewRedisStore(local *Store, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.DB = RedisDB
	client := redis.NewClient(opt)

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{local: local, client: client, ttl: ttl}, nil
}

// Get returns patternID's reputation, consulting Redis on a local miss.
func (rs *RedisStore) Get(ctx context.Context, patternID string) (PatternReputation, bool) {
	if rep, ok := rs.local.Get(patternID); ok {
		return rep, true
	}

	raw, err := rs.client.Get(ctx, redisKeyPrefix+patternID).Result()
	if err != nil {
		return PatternReputation{}, false
	}
	var rep PatternReputation
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return PatternReputation{}, false
	}

	rs.local.mu.Lock()
	e, ok := rs.local.entries[patternID]
	if !ok {
		e = &entry{data: rep, lastDecay: rs.local.now()}
		rs.local.entries[patternID] = e
	}
	rs.local.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.data = rep
		e.mu.Unlock()
	}
	return rep, true
}

// Update applies the update to the local Store, then best-effort replicates
// the resulting reputation to Redis. Replication failures are swallowed: the
// local Store remains authoritative for this process, spec.md §4.5's update
// law is unaffected by Redis availability.
func (rs *RedisStore) Update(ctx context.Context, patternID string, label, weight float64) PatternReputation {
	rep := rs.local.Update(patternID, label, weight)
	rs.replicate(ctx, rep)
	return rep
}

func (rs *RedisStore) replicate(ctx context.Context, rep PatternReputation) {
	raw, err := json.Marshal(rep)
	if err != nil {
		return
	}
	_ = rs.client.Set(ctx, redisKeyPrefix+rep.PatternID, raw, rs.ttl).Err()
}

// SetManual forces a manual state locally and replicates it immediately,
// since manual overrides are operator actions that should propagate without
// waiting for the next Update.
func (rs *RedisStore) SetManual(ctx context.Context, patternID string, state State) {
	rs.local.SetManual(patternID, state)
	if rep, ok := rs.local.Get(patternID); ok {
		rs.replicate(ctx, rep)
	}
}

// Close releases the underlying Redis client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
