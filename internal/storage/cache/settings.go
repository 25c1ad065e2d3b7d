// Package cache caches hot read-only documents in Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/settings"
)

// SettingsKey is the cache key of the settings document.
const SettingsKey = "storefront:settings"

// DefaultSettingsTTL bounds how stale cached settings may be.
const DefaultSettingsTTL = 30 * time.Second

var _ settings.Repository = (*SettingsCache)(nil)

// SettingsCache is a read-through cache in front of a settings.Repository.
// Redis failures fall back to the repository so checkout never depends on
// the cache being up.
type SettingsCache struct {
	client *redis.Client
	next   settings.Repository
	ttl    time.Duration
}

// NewSettingsCache wraps next. A non-positive ttl selects DefaultSettingsTTL.
func NewSettingsCache(client *redis.Client, next settings.Repository, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	return &SettingsCache{client: client, next: next, ttl: ttl}
}

// NewClient parses a redis:// URL, or treats addr as host:port.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(opts), nil
	}
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

func (c *SettingsCache) Get(ctx context.Context) (settings.Settings, error) {
	lg := zctx.From(ctx)

	raw, err := c.client.Get(ctx, SettingsKey).Bytes()
	switch {
	case err == nil:
		var s settings.Settings
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		lg.Warn("Discarding malformed cached settings")
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Settings cache read failed", zap.Error(err))
	}

	s, err := c.next.Get(ctx)
	if err != nil {
		return settings.Settings{}, err
	}
	c.store(ctx, s)
	return s, nil
}

// Save writes through to the repository and refreshes the cache.
func (c *SettingsCache) Save(ctx context.Context, s settings.Settings) error {
	if err := c.next.Save(ctx, s); err != nil {
		return err
	}
	c.store(ctx, s)
	return nil
}

// Invalidate drops the cached document.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, SettingsKey).Err(); err != nil {
		return errors.Wrap(err, "delete settings key")
	}
	return nil
}

func (c *SettingsCache) store(ctx context.Context, s settings.Settings) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, SettingsKey, raw, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Settings cache write failed", zap.Error(err))
	}
}
