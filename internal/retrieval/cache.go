package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/banks1923/email-sync/internal/cache"
	"github.com/banks1923/email-sync/internal/observability"
)

// ResponseCache caches retrieval responses, keyed deterministically off the
// query + filters + mode, adapted from the teacher's tenant-scoped
// response cache with the tenant dimension collapsed (§9 single-tenant
// collapse).
type ResponseCache struct {
	client cache.Client
	logger *observability.Logger
	config ResponseCacheConfig
}

// ResponseCacheConfig configures the response cache.
type ResponseCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Enabled   bool
}

// DefaultResponseCacheConfig returns the C6 cache defaults.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{TTL: 5 * time.Minute, KeyPrefix: "retrieval:response:", Enabled: true}
}

// NewResponseCache creates a response cache over the given backend. client
// may be a *cache.RedisClient or *cache.MemoryClient.
func NewResponseCache(client cache.Client, logger *observability.Logger, config ResponseCacheConfig) *ResponseCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "retrieval:response:"
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	return &ResponseCache{client: client, logger: logger, config: config}
}

// cacheKey builds a deterministic key from a mode tag plus the validated
// query, sorted filter fields, and limit — the same sha256-of-joined-parts
// construction the teacher used for its tenant-scoped cache.
func (c *ResponseCache) cacheKey(mode string, q Query) string {
	parts := []string{mode, q.Text}

	tags := append([]string(nil), q.Filters.Tags...)
	sort.Strings(tags)
	for _, t := range tags {
		parts = append(parts, "tag:"+t)
	}
	if q.Filters.TagLogic != "" {
		parts = append(parts, "logic:"+string(q.Filters.TagLogic))
	}
	if q.Filters.DateFrom != nil {
		parts = append(parts, "from:"+q.Filters.DateFrom.Format(time.RFC3339))
	}
	if q.Filters.DateTo != nil {
		parts = append(parts, "to:"+q.Filters.DateTo.Format(time.RFC3339))
	}
	parts = append(parts, "limit:"+strconv.Itoa(q.Limit))

	combined := ""
	for _, p := range parts {
		combined += p + "|"
	}
	hash := sha256.Sum256([]byte(combined))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:16])
}

// cachedHits is the JSON envelope stored in the cache backend.
type cachedHits struct {
	Hits      []Hit     `json:"hits"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Get retrieves cached hits for mode+query if present and unexpired.
func (c *ResponseCache) Get(ctx context.Context, mode string, q Query) ([]Hit, bool) {
	if !c.config.Enabled || c.client == nil {
		return nil, false
	}
	key := c.cacheKey(mode, q)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Debug().Err(err).Str("key", key).Msg("cache get error")
		}
		return nil, false
	}
	var cached cachedHits
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to unmarshal cached response")
		return nil, false
	}
	if time.Now().After(cached.ExpiresAt) {
		return nil, false
	}
	return cached.Hits, true
}

// Set caches hits for mode+query.
func (c *ResponseCache) Set(ctx context.Context, mode string, q Query, hits []Hit) error {
	if !c.config.Enabled || c.client == nil {
		return nil
	}
	key := c.cacheKey(mode, q)
	now := time.Now()
	data, err := json.Marshal(cachedHits{Hits: hits, CachedAt: now, ExpiresAt: now.Add(c.config.TTL)})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, c.config.TTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to cache response")
		return err
	}
	return nil
}

// Invalidate drops every cached response. Called after any ingest that
// changes the content store, since cached hits reference specific rows.
func (c *ResponseCache) Invalidate(ctx context.Context) error {
	if !c.config.Enabled || c.client == nil {
		return nil
	}
	return c.client.DeleteByPrefix(ctx, c.config.KeyPrefix)
}
