package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
)

// Store represents a generic cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes every key in one call. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// multiSetter is implemented by stores that can write several keys in one round trip.
type multiSetter interface {
	SetMany(ctx context.Context, keys []string, value []byte, ttl time.Duration) error
}

// Versioned is implemented by stores that fence keys at the version of the last
// invalidation and refuse writes of older copies. It closes the window where a reader
// loads a row, a writer commits and invalidates, and the reader then caches its stale copy.
type Versioned interface {
	SetIfNewer(ctx context.Context, keys []string, value []byte, version int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, version int64, ttl time.Duration, keys ...string) error
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "copra"

// Key joins parts into a namespaced cache key, e.g. Key("orders", "CO-20250101-0001").
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// GetJSON loads key and decodes it into a new T.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	if s == nil {
		return nil, ErrCacheMiss
	}
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v and stores it under every key.
func SetJSON(ctx context.Context, s Store, v any, ttl time.Duration, keys ...string) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ms, ok := s.(multiSetter); ok && len(keys) > 1 {
		return ms.SetMany(ctx, keys, raw, ttl)
	}
	for _, key := range keys {
		if err := s.Set(ctx, key, raw, ttl); err != nil {
			return err
		}
	}
	return nil
}

// SetVersionedJSON stores v under every key unless one of them was invalidated at a newer
// version. Stores without fences fall back to SetJSON.
func SetVersionedJSON(ctx context.Context, s Store, v any, version int64, ttl time.Duration, keys ...string) error {
	vs, ok := s.(Versioned)
	if !ok {
		return SetJSON(ctx, s, v, ttl, keys...)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = vs.SetIfNewer(ctx, keys, raw, version, ttl)
	return err
}

// Invalidate drops keys and fences them at version where the store supports it.
func Invalidate(ctx context.Context, s Store, version int64, ttl time.Duration, keys ...string) error {
	if s == nil {
		return nil
	}
	if vs, ok := s.(Versioned); ok {
		return vs.Invalidate(ctx, version, ttl, keys...)
	}
	return s.Delete(ctx, keys...)
}

// Module provides the cache store to the Fx graph.
var Module = fx.Provide(NewStore)

// NewStore initialises the configured cache store (redis or noop).
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	if !cfg.Cache.Enabled {
		return NoopStore(), nil
	}
	switch cfg.Cache.Driver {
	case "noop":
		if logger != nil {
			logger.Info("cache disabled; using noop store")
		}
		return noopStore{}, nil
	case "redis":
		return newRedisStore(lc, cfg.Cache, logger)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// NoopStore returns a store that never hits.
func NoopStore() Store {
	return noopStore{}
}

type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (noopStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (noopStore) Delete(context.Context, ...string) error {
	return nil
}

type redisStore struct {
	client     *goredis.Client
	defaultTTL time.Duration
}

func newRedisStore(lc fx.Lifecycle, cfg config.Cache, logger *zap.Logger) (Store, error) {
	opts := &goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := goredis.NewClient(opts)
	store := &redisStore{client: client, defaultTTL: cfg.DefaultTTL}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			if logger != nil {
				logger.Info("redis cache connected", zap.String("addr", cfg.Redis.Addr))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if logger != nil {
				logger.Info("closing redis cache")
			}
			return client.Close()
		},
	})

	return store, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	res, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetMany writes value under every key in a single MULTI/EXEC so readers never see one
// alias updated without the other.
func (s *redisStore) SetMany(ctx context.Context, keys []string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, key := range keys {
			if key == "" {
				return errors.New("cache key is required")
			}
			pipe.Set(ctx, key, value, ttl)
		}
		return nil
	})
	return err
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	nonEmpty := keys[:0:0]
	for _, key := range keys {
		if key != "" {
			nonEmpty = append(nonEmpty, key)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	return s.client.Del(ctx, nonEmpty...).Err()
}

// KEYS come in (entry, fence) pairs.
var setIfNewerScript = goredis.NewScript(`
for i = 2, #KEYS, 2 do
  local fence = redis.call('GET', KEYS[i])
  if fence and tonumber(fence) > tonumber(ARGV[2]) then
    return 0
  end
end
for i = 1, #KEYS, 2 do
  redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[3])
end
return 1
`)

var invalidateScript = goredis.NewScript(`
for i = 1, #KEYS, 2 do
  local fence = redis.call('GET', KEYS[i + 1])
  if not fence or tonumber(fence) < tonumber(ARGV[1]) then
    redis.call('SET', KEYS[i + 1], ARGV[1], 'PX', ARGV[2])
  end
  redis.call('DEL', KEYS[i])
end
return 1
`)

func fenceKeys(keys []string) []string {
	out := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		if key != "" {
			out = append(out, key, key+":fence")
		}
	}
	return out
}

func (s *redisStore) SetIfNewer(ctx context.Context, keys []string, value []byte, version int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	pairs := fenceKeys(keys)
	if len(pairs) == 0 {
		return false, errors.New("cache key is required")
	}
	stored, err := setIfNewerScript.Run(ctx, s.client, pairs, value, version, ttl.Milliseconds()).Int()
	return stored == 1, err
}

// Invalidate keeps each fence for ttl, long enough to outlive any read already in flight.
func (s *redisStore) Invalidate(ctx context.Context, version int64, ttl time.Duration, keys ...string) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	pairs := fenceKeys(keys)
	if len(pairs) == 0 {
		return nil
	}
	return invalidateScript.Run(ctx, s.client, pairs, version, ttl.Milliseconds()).Err()
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *goredis.Client, defaultTTL time.Duration) Store {
	return &redisStore{client: client, defaultTTL: defaultTTL}
}
