package closing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "inventory:version"
	bumpChannel     = "inventory.bump"
)

// Cache versions the reconciled-inventory cache in Redis. Every ledger
// write bumps the version, which orphans all entries built against the
// old one; TTL expiry collects the orphans. A nil cache degrades to
// loading straight from the source.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetOrLoad returns the value cached under the versioned form of key,
// falling back to load and caching its result for the configured TTL.
func (c *Cache) GetOrLoad(ctx context.Context, key string, dest any, load func(context.Context) (any, error)) error {
	if load == nil {
		return errors.New("closing: cache loader required")
	}
	if c == nil || c.client == nil {
		return loadInto(ctx, dest, load)
	}
	versioned, err := c.versionedKey(ctx, key)
	if err != nil {
		return err
	}
	payload, err := c.client.Get(ctx, versioned).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, versioned, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func loadInto(ctx context.Context, dest any, load func(context.Context) (any, error)) error {
	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (c *Cache) versionedKey(ctx context.Context, key string) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", key, ver), nil
}

// version reads the current cache version, initialising it to 1 when
// missing or corrupted.
func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if err == nil && ver > 0 {
		return ver, nil
	}
	if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

// Bump invalidates the cached inventory by incrementing the version and
// publishing it. Ledger writes call this after commit.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bump notifications so
// several instances converge on one version. An empty channel selects
// the default.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = bumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil && ver > 0 {
					_ = c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
					continue
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}

func keyStatus(filter StatusFilter, page, size int) string {
	return strings.Join([]string{
		"inventory", "status",
		idToken(filter.CompanyID), idToken(filter.FacilityTypeID),
		strconv.Itoa(page), strconv.Itoa(size),
	}, ":")
}

func idToken(id int64) string {
	if id == 0 {
		return "all"
	}
	return strconv.FormatInt(id, 10)
}
