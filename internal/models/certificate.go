package models

import "time"

// PluginCertificate describes a signing certificate attached to a plugin
// signature. A certificate belongs to a chain; the chain is complete only
// when at least one certificate in it matches a registered trust anchor.
type PluginCertificate struct {
	Subject     string     `json:"subject"`
	Issuer      string     `json:"issuer"`
	Serial      string     `json:"serial"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     time.Time  `json:"valid_to"`
	PublicKey   []byte     `json:"public_key"`
	Fingerprint string     `json:"fingerprint"`
	Permissions []string   `json:"permissions"`
	TrustLevel  TrustLevel `json:"trust_level"`
	Revoked     bool       `json:"revoked"`
	RevokedReason string   `json:"revoked_reason,omitempty"`
}

// IsSelfSigned reports whether the certificate is its own issuer.
func (c *PluginCertificate) IsSelfSigned() bool {
	return c.Subject != "" && c.Subject == c.Issuer
}

// ValidAt reports whether t falls inside the certificate validity window.
func (c *PluginCertificate) ValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}

// TrustAnchor is a self-signed certificate explicitly registered as a root
// of trust, with the trust level it confers on chains terminating at it.
type TrustAnchor struct {
	Certificate PluginCertificate `json:"certificate"`
	TrustLevel  TrustLevel        `json:"trust_level"`
	AddedAt     time.Time         `json:"added_at"`
	AddedBy     string            `json:"added_by,omitempty"`
}

// SignedAttribute is a single attribute covered by a plugin signature.
type SignedAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PluginSignature is the cryptographic signature over one plugin manifest
// version. Signatures are never mutated; re-signing produces a new object.
type PluginSignature struct {
	Algorithm        string              `json:"algorithm"`
	Value            []byte              `json:"value"`
	ContentHash      string              `json:"content_hash"`
	HashAlgorithm    string              `json:"hash_algorithm"`
	SigningTime      time.Time           `json:"signing_time"`
	SignedAttributes []SignedAttribute   `json:"signed_attributes,omitempty"`
	Certificate      PluginCertificate   `json:"certificate"`
	CertificateChain []PluginCertificate `json:"certificate_chain,omitempty"`
}

// VerificationErrorCode identifies a verification failure class.
type VerificationErrorCode string

const (
	VerifySignatureInvalid      VerificationErrorCode = "SIGNATURE_INVALID"
	VerifyHashMismatch          VerificationErrorCode = "HASH_MISMATCH"
	VerifyCertificateExpired    VerificationErrorCode = "CERTIFICATE_EXPIRED"
	VerifyCertificateRevoked    VerificationErrorCode = "CERTIFICATE_REVOKED"
	VerifyChainIncomplete       VerificationErrorCode = "CHAIN_INCOMPLETE"
	VerifyTrustAnchorNotFound   VerificationErrorCode = "TRUST_ANCHOR_NOT_FOUND"
	VerifyPermissionMismatch    VerificationErrorCode = "PERMISSION_MISMATCH"
	VerifyTimeValidationFailed  VerificationErrorCode = "TIME_VALIDATION_FAILED"
	VerifyManifestInvalid       VerificationErrorCode = "MANIFEST_INVALID"
	VerifyCertificateExpiringSoon VerificationErrorCode = "CERTIFICATE_EXPIRING_SOON"
)

// VerificationError is a single error or warning accumulated during
// signature verification.
type VerificationError struct {
	Code     VerificationErrorCode `json:"code"`
	Severity ErrorSeverity         `json:"severity"`
	Message  string                `json:"message"`
	Step     string                `json:"step,omitempty"`
}

// VerificationResult is the outcome of one verification run. Verification
// always returns a result object; it never raises past this boundary.
type VerificationResult struct {
	Valid      bool                `json:"valid"`
	TrustLevel TrustLevel          `json:"trust_level"`
	Chain      []PluginCertificate `json:"chain,omitempty"`
	Errors     []VerificationError `json:"errors,omitempty"`
	Warnings   []VerificationError `json:"warnings,omitempty"`
	VerifiedAt time.Time           `json:"verified_at"`
}

// HasFatal reports whether any accumulated error is FATAL.
func (r *VerificationResult) HasFatal() bool {
	for _, e := range r.Errors {
		if e.Severity == ErrorSeverityFatal {
			return true
		}
	}
	return false
}

// AddError appends an error with the given severity.
func (r *VerificationResult) AddError(code VerificationErrorCode, severity ErrorSeverity, step, message string) {
	r.Errors = append(r.Errors, VerificationError{Code: code, Severity: severity, Step: step, Message: message})
}

// AddWarning appends a warning entry.
func (r *VerificationResult) AddWarning(code VerificationErrorCode, step, message string) {
	r.Warnings = append(r.Warnings, VerificationError{Code: code, Severity: ErrorSeverityWarning, Step: step, Message: message})
}
