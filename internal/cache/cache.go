// Package cache implements C7: a Redis-backed response cache honoring
// Cache-Control semantics and degrading to a clean miss whenever Redis is
// unreachable. The key-prefixed client wrapper and SET/GET/DEL shape is
// grounded on internal/fabric/redis_store.go's RedisHubStore.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxKeyBytes    = 1024
	defaultTTL     = 60 * time.Second
	maxObjectBytes = 8 << 20
)

// ErrKeyTooLarge is returned when a cache key exceeds the bound or
// contains a CR/LF byte (spec.md §4.7 key hygiene).
var ErrKeyTooLarge = errors.New("cache: key exceeds bound or contains control characters")

// Entry is a cached response.
type Entry struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Cache wraps a Redis client with Cache-Control-aware Get/Set and a
// degrade-to-miss policy on any connection error.
type Cache struct {
	client      *redis.Client
	keyPrefix   string
	defaultTTL  time.Duration
	maxObject   int
}

// New constructs a Cache. addr/password/db configure the go-redis client
// directly (spec.md §4.7: "Redis-compatible").
func New(addr, password string, db int, keyPrefix string, defaultTTLSec int) *Cache {
	if keyPrefix == "" {
		keyPrefix = "aegis:cache:"
	}
	ttl := defaultTTL
	if defaultTTLSec > 0 {
		ttl = time.Duration(defaultTTLSec) * time.Second
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		keyPrefix:  keyPrefix,
		defaultTTL: ttl,
		maxObject:  maxObjectBytes,
	}
}

// ValidateKey enforces the ≤1024 byte, no CR/LF bound on cache keys.
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyBytes {
		return ErrKeyTooLarge
	}
	if strings.ContainsAny(key, "\r\n") {
		return ErrKeyTooLarge
	}
	return nil
}

// Get looks up key, returning (nil, false) on a clean miss, whether that
// miss is "not present" or "Redis unreachable" — callers don't distinguish
// the two (spec.md §4.7: "degrades to miss on disconnect").
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if err := ValidateKey(key); err != nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache: redis GET failed, degrading to miss", "error", err)
		}
		return nil, false
	}
	entry, err := decodeEntry(data)
	if err != nil {
		slog.Warn("cache: corrupt cache entry, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return entry, true
}

// Set stores resp under key, honoring Cache-Control: no-store/no-cache/
// private (never stored) and max-age (used as the TTL, overriding the
// cache's default). Oversized bodies are never stored.
func (c *Cache) Set(ctx context.Context, key string, entry *Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if len(entry.Body) > c.maxObject {
		return nil
	}
	ttl, storable := cacheability(entry.Header, c.defaultTTL)
	if !storable {
		return nil
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err(); err != nil {
		slog.Warn("cache: redis SET failed, continuing without caching", "error", err)
		return nil
	}
	return nil
}

// Delete removes a cached entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		slog.Warn("cache: redis DEL failed", "error", err)
	}
	return nil
}

// cacheability interprets the Cache-Control response header, returning the
// TTL to use and whether the response should be stored at all.
func cacheability(header http.Header, fallback time.Duration) (time.Duration, bool) {
	cc := strings.ToLower(header.Get("Cache-Control"))
	if cc == "" {
		return fallback, true
	}
	ttl := fallback
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		switch {
		case directive == "no-store", directive == "no-cache", directive == "private":
			return 0, false
		case strings.HasPrefix(directive, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err != nil {
				slog.Warn("cache: invalid max-age directive, using default TTL", "directive", directive, "error", err)
				continue
			}
			if secs <= 0 {
				return 0, false
			}
			ttl = time.Duration(secs) * time.Second
		}
	}
	return ttl, true
}
