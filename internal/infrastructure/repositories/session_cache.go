package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/accountportal/domain"
	"go.uber.org/zap"
)

// SessionCacheProvider hands out Redis-backed session caches, one namespace per device
type SessionCacheProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionCacheProvider creates a new provider. Entries expire after ttl of inactivity.
func NewSessionCacheProvider(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionCacheProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCacheProvider{
		client: client,
		prefix: "portal:device:",
		ttl:    ttl,
		logger: logger,
	}
}

// ForDevice implements domain.SessionCacheProvider
func (p *SessionCacheProvider) ForDevice(deviceID, listenerID string) domain.SessionCache {
	return &SessionCacheImpl{
		client:   p.client,
		base:     p.prefix + deviceID + ":",
		ttl:      p.ttl,
		listener: listenerID,
		logger:   p.logger.With(zap.String("device_id", deviceID)),
	}
}

// SessionCacheImpl implements domain.SessionCache for one device
type SessionCacheImpl struct {
	client   *redis.Client
	base     string
	ttl      time.Duration
	listener string
	logger   *zap.Logger
}

func (c *SessionCacheImpl) key(k domain.CacheKey) string { return c.base + string(k) }

func (c *SessionCacheImpl) channel() string { return c.base + "changes" }

// Get implements domain.SessionCache. Entries that fail to decode or validate are removed.
func (c *SessionCacheImpl) Get(ctx context.Context, key domain.CacheKey, dst domain.CacheEntry) bool {
	found, _ := c.Lookup(ctx, key, dst)
	return found
}

// Lookup implements domain.SessionCache
func (c *SessionCacheImpl) Lookup(ctx context.Context, key domain.CacheKey, dst domain.CacheEntry) (bool, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("session cache read failed", zap.String("key", string(key)), zap.Error(err))
		}
		return false, false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.discard(ctx, key, err)
		return false, true
	}
	if err := dst.Validate(); err != nil {
		c.discard(ctx, key, err)
		return false, true
	}
	return true, false
}

func (c *SessionCacheImpl) discard(ctx context.Context, key domain.CacheKey, cause error) {
	c.logger.Warn("discarding malformed session cache entry", zap.String("key", string(key)), zap.Error(cause))
	if err := c.Remove(ctx, key); err != nil {
		c.logger.Warn("failed to discard session cache entry", zap.String("key", string(key)), zap.Error(err))
	}
}

// Set implements domain.SessionCache. Values are validated before they are written.
func (c *SessionCacheImpl) Set(ctx context.Context, key domain.CacheKey, value domain.CacheEntry) error {
	if err := value.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", key, err)
	}
	change, err := c.encodeChange(key, false)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(key), data, c.ttl)
		pipe.Publish(ctx, c.channel(), change)
		return nil
	})
	if err != nil {
		return domain.CacheUnavailable(fmt.Errorf("failed to store %s entry: %w", key, err))
	}
	return nil
}

// Remove implements domain.SessionCache
func (c *SessionCacheImpl) Remove(ctx context.Context, keys ...domain.CacheKey) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	changes := make([][]byte, len(keys))
	for i, k := range keys {
		redisKeys[i] = c.key(k)
		change, err := c.encodeChange(k, true)
		if err != nil {
			return err
		}
		changes[i] = change
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeys...)
		for _, change := range changes {
			pipe.Publish(ctx, c.channel(), change)
		}
		return nil
	})
	if err != nil {
		return domain.CacheUnavailable(fmt.Errorf("failed to remove entries: %w", err))
	}
	return nil
}

// OnExternalChange implements domain.SessionCache. Changes published by this cache's own
// listener are not delivered back to it.
func (c *SessionCacheImpl) OnExternalChange(ctx context.Context, fn func(domain.CacheChange), keys ...domain.CacheKey) (func(), error) {
	sub := c.client.Subscribe(ctx, c.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, domain.CacheUnavailable(fmt.Errorf("failed to subscribe to changes: %w", err))
	}

	wanted := make(map[domain.CacheKey]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}

	messages := sub.Channel()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change domain.CacheChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					c.logger.Warn("ignoring malformed change notification", zap.Error(err))
					continue
				}
				if c.listener != "" && change.Origin == c.listener {
					continue
				}
				if len(wanted) > 0 {
					if _, ok := wanted[change.Key]; !ok {
						continue
					}
				}
				fn(change)
			}
		}
	}()

	return cancel, nil
}

func (c *SessionCacheImpl) encodeChange(key domain.CacheKey, removed bool) ([]byte, error) {
	data, err := json.Marshal(domain.CacheChange{
		Key:     key,
		Removed: removed,
		Origin:  c.listener,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change notification: %w", err)
	}
	return data, nil
}
