package signing

import (
	"sync"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// DefaultCacheTTL is the deliberate staleness bound on verification
// results. A cached result does not reflect a CRL rotated after caching.
const DefaultCacheTTL = 5 * time.Minute

// cachedResult pairs a verification result with its expiry.
type cachedResult struct {
	result  *models.VerificationResult
	expires time.Time
}

// resultCache caches verification results keyed by (plugin path, manifest
// path) for a bounded TTL.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cachedResult
	ttl     time.Duration
	now     func() time.Time
}

func newResultCache(ttl time.Duration, now func() time.Time) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &resultCache{
		entries: make(map[string]cachedResult),
		ttl:     ttl,
		now:     now,
	}
}

func cacheKey(pluginPath, manifestPath string) string {
	return pluginPath + "\x00" + manifestPath
}

func (c *resultCache) get(pluginPath, manifestPath string) (*models.VerificationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(pluginPath, manifestPath)]
	if !ok || c.now().After(entry.expires) {
		delete(c.entries, cacheKey(pluginPath, manifestPath))
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) put(pluginPath, manifestPath string, result *models.VerificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(pluginPath, manifestPath)] = cachedResult{
		result:  result,
		expires: c.now().Add(c.ttl),
	}
}

func (c *resultCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedResult)
}
