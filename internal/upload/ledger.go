package upload

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers the digest of the bytes last persisted under each
// filename so that repeating a save does not upload again.
type Ledger interface {
	Digest(ctx context.Context, filename string) (string, bool, error)
	Record(ctx context.Context, filename, digest string) error
}

// Generations counts reconciliation triggers per photo field so that a
// result overtaken by a newer trigger can be discarded.
type Generations interface {
	Next(ctx context.Context, field string) (int64, error)
	Current(ctx context.Context, field string) (int64, error)
}

// ==========================
// Redis
// ==========================

// RedisLedger keeps digests under prefix+filename with a TTL.
type RedisLedger struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "upload:ledger:"
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) Digest(ctx context.Context, filename string) (string, bool, error) {
	v, err := l.client.Get(ctx, l.prefix+filename).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (l *RedisLedger) Record(ctx context.Context, filename, digest string) error {
	return l.client.Set(ctx, l.prefix+filename, digest, l.ttl).Err()
}

// RedisGenerations keeps one counter per field under prefix+field. A new
// generation is never below the current time in microseconds, so counters
// keep increasing across key expiry or a flushed Redis and stay comparable
// with generations already written next to stored references.
type RedisGenerations struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisGenerations(client redis.Cmdable, prefix string, ttl time.Duration) *RedisGenerations {
	if prefix == "" {
		prefix = "upload:gen:"
	}
	return &RedisGenerations{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// nextGeneration increments KEYS[1], raises it to ARGV[1] when the clock is
// ahead and refreshes the TTL of ARGV[2] seconds.
var nextGeneration = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
	n = tonumber(ARGV[1])
end
if tonumber(ARGV[2]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return n
`)

func (g *RedisGenerations) Next(ctx context.Context, field string) (int64, error) {
	floor := strconv.FormatInt(g.now().UnixMicro(), 10)
	ttl := int64(g.ttl / time.Second)
	return nextGeneration.Run(ctx, g.client, []string{g.prefix + field}, floor, ttl).Int64()
}

func (g *RedisGenerations) Current(ctx context.Context, field string) (int64, error) {
	v, err := g.client.Get(ctx, g.prefix+field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// ==========================
// Memory
// ==========================

type MemoryLedger struct {
	mu      sync.Mutex
	digests map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{digests: make(map[string]string)}
}

func (l *MemoryLedger) Digest(_ context.Context, filename string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.digests[filename]
	return d, ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, filename, digest string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.digests[filename] = digest
	return nil
}

type MemoryGenerations struct {
	mu   sync.Mutex
	gens map[string]int64
}

func NewMemoryGenerations() *MemoryGenerations {
	return &MemoryGenerations{gens: make(map[string]int64)}
}

func (g *MemoryGenerations) Next(_ context.Context, field string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gens[field]++
	return g.gens[field], nil
}

func (g *MemoryGenerations) Current(_ context.Context, field string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[field], nil
}
