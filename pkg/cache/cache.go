// Package cache memoizes expensive computations in memory and, optionally,
// on disk.
//
// Every entry is keyed by a call Signature and carries a retained hash
// supplied by the caller. A lookup whose freshly computed hash differs from
// the retained one is stale and recomputes. Disk entries live under a
// directory namespaced by the build version, are written once and are never
// deleted; a new version simply stops seeing the old files.
//
// Failed computations are returned to the caller and never stored.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/boredom101/nix-gui/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/boredom101/nix-gui/pkg/cache")

// Lookup results reported to metrics.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultStale = "stale"
)

// Signature identifies one memoized call.
type Signature struct {
	// Function names the memoized operation.
	Function string

	// Args are the positional arguments. They must be JSON encodable.
	Args []any

	// Kwargs are named arguments. They must be JSON encodable.
	Kwargs map[string]any
}

// Key returns the canonical encoding of the signature. Map keys are sorted
// by the encoder, so equal signatures always produce equal keys.
func (s Signature) Key() (string, error) {
	args := s.Args
	if args == nil {
		args = []any{}
	}
	kwargs := s.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	data, err := json.Marshal([]any{s.Function, args, kwargs})
	if err != nil {
		return "", fmt.Errorf("cache: encoding signature of %s: %w", s.Function, err)
	}
	return string(data), nil
}

// HashFunc computes the retained hash of a call at lookup time.
type HashFunc func(ctx context.Context) (string, error)

// Call describes one memoized invocation.
type Call[T any] struct {
	// Signature keys the entry.
	Signature Signature

	// Compute produces the value on a miss.
	Compute func(ctx context.Context) (T, error)

	// Hash computes the freshness hash. Nil means the entry never goes stale.
	Hash HashFunc

	// Copy, when set, is applied to every returned value so callers cannot
	// mutate the stored one.
	Copy func(T) T

	// Persist enables the disk tier. T must round-trip through JSON.
	Persist bool
}

// Config configures a Cache.
type Config struct {
	// Dir is the directory for disk entries. Empty disables persistence.
	Dir string

	// Version namespaces disk entries. Changing it orphans older entries.
	Version string

	// Logger receives debug and warning logs.
	Logger zerolog.Logger

	// Metrics records lookup results. May be nil.
	Metrics *telemetry.Metrics
}

type entry struct {
	hash  string
	value any
}

// Cache is safe for concurrent use. Concurrent identical computations are
// collapsed into one.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group

	disk    *diskStore
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a cache. The disk directory is created if needed.
func New(cfg Config) (*Cache, error) {
	c := &Cache{
		entries: make(map[string]entry),
		logger:  cfg.Logger.With().Str("component", "cache").Logger(),
		metrics: cfg.Metrics,
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating %s: %w", cfg.Dir, err)
		}
		c.disk = &diskStore{dir: cfg.Dir, version: cfg.Version}
	}

	return c, nil
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrCompute returns the memoized value for call, computing it when the
// entry is missing or its retained hash no longer matches.
func GetOrCompute[T any](ctx context.Context, c *Cache, call Call[T]) (T, error) {
	var zero T
	fn := call.Signature.Function

	ctx, span := tracer.Start(ctx, "cache.GetOrCompute")
	span.SetAttributes(telemetry.AttrCacheFunction.String(fn))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	key, err := call.Signature.Key()
	if err != nil {
		return zero, err
	}

	var retained string
	if call.Hash != nil {
		retained, err = call.Hash(ctx)
		if err != nil {
			err = fmt.Errorf("cache: hashing %s: %w", fn, err)
			return zero, err
		}
	}

	if v, ok := lookup[T](c, key, retained, fn, call.Persist); ok {
		span.SetAttributes(telemetry.AttrCacheResult.String(resultHit))
		// retries a disk write that failed when the value was computed
		if call.Persist {
			c.persist(key, fn, v, retained)
		}
		return copyOf(call, v), nil
	}

	shared, err, _ := c.group.Do(key+"\x00"+retained, func() (any, error) {
		v, err := call.Compute(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{hash: retained, value: v}
		c.mu.Unlock()

		if call.Persist {
			c.persist(key, fn, v, retained)
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}

	v, _ := shared.(T)
	return copyOf(call, v), nil
}

// lookup checks memory, pulling the disk entry in first when memory has none.
func lookup[T any](c *Cache, key, retained, fn string, persist bool) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok && persist && c.disk != nil && c.disk.exists(key) {
		var v T
		hash, err := c.disk.load(key, &v)
		c.metrics.RecordCacheDiskLoad(fn, err)
		if err != nil {
			c.logger.Warn().Err(err).Str("function", fn).Msg("ignoring unreadable disk cache entry")
		} else {
			e = entry{hash: hash, value: v}
			c.entries[key] = e
			ok = true
		}
	}

	if !ok {
		c.metrics.RecordCacheLookup(fn, resultMiss)
		c.logger.Debug().Str("function", fn).Msg("cache miss")
		return zero, false
	}

	v, typed := e.value.(T)
	if !typed || e.hash != retained {
		c.metrics.RecordCacheLookup(fn, resultStale)
		c.logger.Debug().Str("function", fn).Str("stored", e.hash).Str("current", retained).Msg("cache entry is stale")
		return zero, false
	}

	c.metrics.RecordCacheLookup(fn, resultHit)
	return v, true
}

// persist writes a disk entry unless one already exists. Disk failures only
// cost a future recomputation, so they are logged rather than returned.
func (c *Cache) persist(key, fn string, value any, hash string) {
	if c.disk == nil || c.disk.exists(key) {
		return
	}
	err := c.disk.store(key, value, hash)
	c.metrics.RecordCacheDiskWrite(fn, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("function", fn).Msg("failed to persist cache entry")
	}
}

func copyOf[T any](call Call[T], v T) T {
	if call.Copy == nil {
		return v
	}
	return call.Copy(v)
}
