package signing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// crlEntry is one cached revocation record.
type crlEntry struct {
	Serial    string
	Reason    string
	RevokedAt time.Time
}

// CRLCache is the cached certificate revocation list, looked up by serial
// number. Revocations are visible to subsequent reads immediately.
type CRLCache struct {
	mu      sync.RWMutex
	entries map[string]crlEntry
	logger  *logrus.Logger
}

// NewCRLCache creates an empty revocation cache.
func NewCRLCache(logger *logrus.Logger) *CRLCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &CRLCache{
		entries: make(map[string]crlEntry),
		logger:  logger,
	}
}

// Revoke records a certificate serial as revoked.
func (c *CRLCache) Revoke(serial, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[serial] = crlEntry{
		Serial:    serial,
		Reason:    reason,
		RevokedAt: time.Now(),
	}
	c.logger.WithFields(logrus.Fields{
		"serial": serial,
		"reason": reason,
	}).Warn("Certificate revoked")
}

// IsRevoked looks up a serial and returns the revocation reason if found.
func (c *CRLCache) IsRevoked(serial string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[serial]
	return entry.Reason, ok
}

// Serials returns all revoked serials.
func (c *CRLCache) Serials() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	serials := make([]string, 0, len(c.entries))
	for s := range c.entries {
		serials = append(serials, s)
	}
	return serials
}
