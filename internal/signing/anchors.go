// Package signing implements plugin manifest signing and verification:
// content hashing, certificate chain building against registered trust
// anchors, revocation checks and trust level resolution.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// Common errors
var (
	// ErrAnchorNotFound indicates no anchor is registered for a fingerprint
	ErrAnchorNotFound = errors.New("trust anchor not found")

	// ErrAnchorNotSelfSigned indicates the candidate anchor is not self-signed
	ErrAnchorNotSelfSigned = errors.New("trust anchor must be self-signed")

	// ErrAnchorExists indicates an anchor is already registered
	ErrAnchorExists = errors.New("trust anchor already registered")
)

// Fingerprint computes the stable identity of a certificate.
func Fingerprint(cert *models.PluginCertificate) string {
	h := sha256.New()
	h.Write([]byte(cert.Subject))
	h.Write([]byte{0})
	h.Write([]byte(cert.Issuer))
	h.Write([]byte{0})
	h.Write([]byte(cert.Serial))
	h.Write([]byte{0})
	h.Write(cert.PublicKey)
	return hex.EncodeToString(h.Sum(nil))
}

// AnchorStore holds the registered roots of trust. It is read-mostly and
// shared across all plugin evaluations; mutations are visible to
// subsequent reads immediately.
type AnchorStore struct {
	mu      sync.RWMutex
	anchors map[string]models.TrustAnchor
	logger  *logrus.Logger
}

// NewAnchorStore creates an empty anchor store.
func NewAnchorStore(logger *logrus.Logger) *AnchorStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnchorStore{
		anchors: make(map[string]models.TrustAnchor),
		logger:  logger,
	}
}

// Add registers a self-signed certificate as a root of trust with the
// trust level it confers.
func (s *AnchorStore) Add(cert models.PluginCertificate, level models.TrustLevel, addedBy string) error {
	if !cert.IsSelfSigned() {
		return ErrAnchorNotSelfSigned
	}
	if cert.Fingerprint == "" {
		cert.Fingerprint = Fingerprint(&cert)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.anchors[cert.Fingerprint]; exists {
		return ErrAnchorExists
	}
	s.anchors[cert.Fingerprint] = models.TrustAnchor{
		Certificate: cert,
		TrustLevel:  level,
		AddedAt:     time.Now(),
		AddedBy:     addedBy,
	}

	s.logger.WithFields(logrus.Fields{
		"subject":     cert.Subject,
		"fingerprint": cert.Fingerprint,
		"trust_level": level,
	}).Info("Registered trust anchor")
	return nil
}

// Remove deregisters an anchor by fingerprint.
func (s *AnchorStore) Remove(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.anchors[fingerprint]; !exists {
		return ErrAnchorNotFound
	}
	delete(s.anchors, fingerprint)
	s.logger.WithField("fingerprint", fingerprint).Info("Removed trust anchor")
	return nil
}

// Lookup returns the anchor matching the fingerprint.
func (s *AnchorStore) Lookup(fingerprint string) (models.TrustAnchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	anchor, ok := s.anchors[fingerprint]
	return anchor, ok
}

// List returns all registered anchors.
func (s *AnchorStore) List() []models.TrustAnchor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	anchors := make([]models.TrustAnchor, 0, len(s.anchors))
	for _, a := range s.anchors {
		anchors = append(anchors, a)
	}
	return anchors
}
