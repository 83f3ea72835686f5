package caff

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"caff_back/logging"
)

const (
	listCacheGenKey  = "caff:list:gen"
	listCachePrefix  = "caff:list:head:"
	listCacheTTL     = 30 * time.Second
	listCacheTimeout = 300 * time.Millisecond
)

// cacheBackend is the slice of Redis the listing cache needs. Get reports a
// missing key as redis.Nil.
type cacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) error
}

type redisBackend struct {
	client *redis.Client
}

func (r redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

func (r redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r redisBackend) Incr(ctx context.Context, key string) error {
	return r.client.Incr(ctx, key).Err()
}

// ListCache keeps the first listing page in Redis. A nil cache is disabled.
//
// Pages are stored under a key derived from a generation counter that every
// mutation bumps. A reader that loaded rows before a mutation stores them
// under the old generation, where no later reader looks.
type ListCache struct {
	backend cacheBackend
	logger  logrus.FieldLogger
}

// NewListCache returns nil when client is nil.
func NewListCache(client *redis.Client, logger logrus.FieldLogger) *ListCache {
	if client == nil {
		return nil
	}
	return newListCache(redisBackend{client: client}, logger)
}

func newListCache(backend cacheBackend, logger logrus.FieldLogger) *ListCache {
	return &ListCache{backend: backend, logger: logging.Component(logger, "caff.cache")}
}

func (c *ListCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), listCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= listCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, listCacheTimeout)
}

// generation returns the current generation, "0" before the first mutation.
// ok is false when the counter could not be read; callers then bypass the cache.
func (c *ListCache) generation(ctx context.Context) (gen string, ok bool) {
	if c == nil || c.backend == nil {
		return "", false
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	raw, err := c.backend.Get(ctx, listCacheGenKey)
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		c.logger.WithError(err).Debug("read listing cache generation failed")
		return "", false
	}
	if _, err := strconv.ParseInt(string(raw), 10, 64); err != nil {
		return "", false
	}
	return string(raw), true
}

func (c *ListCache) get(ctx context.Context, gen string) ([]Caff, error) {
	if c == nil || c.backend == nil || gen == "" {
		return nil, redis.Nil
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	data, err := c.backend.Get(ctx, listCachePrefix+gen)
	if err != nil {
		return nil, err
	}

	var rows []Caff
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *ListCache) store(ctx context.Context, gen string, rows []Caff) {
	if c == nil || c.backend == nil || gen == "" {
		return
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		c.logger.WithError(err).Warn("marshal listing cache payload failed")
		return
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	if err := c.backend.Set(ctx, listCachePrefix+gen, payload, listCacheTTL); err != nil {
		c.logger.WithError(err).Warn("store listing cache failed")
	}
}

// invalidate bumps the generation. It runs detached from ctx's cancellation
// because the mutation it follows has already committed.
func (c *ListCache) invalidate(ctx context.Context) {
	if c == nil || c.backend == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := c.cacheContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := c.backend.Incr(ctx, listCacheGenKey); err != nil {
		c.logger.WithError(err).Warn("invalidate listing cache failed")
	}
}
