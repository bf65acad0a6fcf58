package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SignatureBlock is the embedded signature section of a plugin manifest.
// A missing or malformed block is a FATAL verification error.
type SignatureBlock struct {
	Algorithm        string              `json:"algorithm"`
	Value            string              `json:"value"` // base64
	SigningTime      time.Time           `json:"signing_time"`
	ContentHash      string              `json:"content_hash"`
	HashAlgorithm    string              `json:"hash_algorithm"`
	SignedAttributes []SignedAttribute   `json:"signed_attributes,omitempty"`
	Certificate      *PluginCertificate  `json:"certificate"`
	CertificateChain []PluginCertificate `json:"certificate_chain,omitempty"`
}

// PluginManifest is the structured plugin descriptor consumed by the
// verification pipeline.
type PluginManifest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Entry       string          `json:"entry,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
	Signature   *SignatureBlock `json:"signature,omitempty"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m PluginManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("manifest %s has no plugin id", path)
	}
	return &m, nil
}
