package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/storage"
)

// cachedKey is the wire form of an API key in Redis. The secret itself is
// never stored; keys are addressed by a digest of it.
type cachedKey struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// KeyCache caches API key lookups in Redis so the gate does not hit
// PostgreSQL on every request.
type KeyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewKeyCache creates a Redis-backed API key cache
func NewKeyCache(config storage.Config) (*KeyCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &KeyCache{client: client, ttl: ttl}, nil
}

// NewKeyCacheWithClient wraps an existing Redis client. Used in tests.
func NewKeyCacheWithClient(client *redis.Client, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &KeyCache{client: client, ttl: ttl}
}

func keyCacheKey(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return "apikey:" + hex.EncodeToString(digest[:])
}

// GetKey retrieves a cached API key by its secret. A cache miss returns
// (nil, nil).
func (c *KeyCache) GetKey(ctx context.Context, secret string) (*auth.APIKey, error) {
	cacheKey := keyCacheKey(secret)
	data, err := c.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cached cachedKey
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.client.Del(ctx, cacheKey)
		return nil, fmt.Errorf("failed to unmarshal cached key: %w", err)
	}

	key := &auth.APIKey{
		ID:          cached.ID,
		OwnerID:     cached.OwnerID,
		Name:        cached.Name,
		SecretValue: secret,
		Status:      auth.KeyStatus(cached.Status),
		ExpiresAt:   cached.ExpiresAt,
		LastUsedAt:  cached.LastUsedAt,
		CreatedAt:   cached.CreatedAt,
	}
	key.Permissions = make([]auth.Permission, len(cached.Permissions))
	for i, p := range cached.Permissions {
		key.Permissions[i] = auth.Permission(p)
	}
	return key, nil
}

// SetKey caches an API key under a digest of its secret
func (c *KeyCache) SetKey(ctx context.Context, key *auth.APIKey) error {
	perms := make([]string, len(key.Permissions))
	for i, p := range key.Permissions {
		perms[i] = string(p)
	}
	data, err := json.Marshal(cachedKey{
		ID:          key.ID,
		OwnerID:     key.OwnerID,
		Name:        key.Name,
		Permissions: perms,
		Status:      string(key.Status),
		ExpiresAt:   key.ExpiresAt,
		LastUsedAt:  key.LastUsedAt,
		CreatedAt:   key.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	return c.client.Set(ctx, keyCacheKey(key.SecretValue), data, c.ttl).Err()
}

// InvalidateKey drops a cached API key after a status change or delete
func (c *KeyCache) InvalidateKey(ctx context.Context, secret string) error {
	return c.client.Del(ctx, keyCacheKey(secret)).Err()
}

// Ping checks Redis connectivity
func (c *KeyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *KeyCache) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *KeyCache) Close() error {
	return c.client.Close()
}
