package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// Verification step names, in pipeline order.
const (
	stepLoadManifest      = "LOAD_MANIFEST"
	stepCheckSignature    = "CHECK_SIGNATURE"
	stepParseCert         = "PARSE_CERT"
	stepBuildChain        = "BUILD_CHAIN"
	stepTimeValidity      = "CHECK_TIME_VALIDITY"
	stepRevocation        = "CHECK_REVOCATION"
	stepValidateTrust     = "VALIDATE_TRUST"
	stepVerifyContentHash = "VERIFY_CONTENT_HASH"
	stepPermissions       = "VALIDATE_PERMISSIONS"
)

// expiryWarningWindow triggers CERTIFICATE_EXPIRING_SOON.
const expiryWarningWindow = 30 * 24 * time.Hour

// Verifier validates plugin manifest signatures and certificate chains
// against the registered trust anchors. Verification always returns a
// result object; it never raises past this boundary. Any FATAL error
// short-circuits the remaining steps but the already-accumulated errors
// and warnings are still returned.
type Verifier struct {
	anchors *AnchorStore
	crl     *CRLCache
	cache   *resultCache
	logger  *logrus.Logger
	now     func() time.Time
}

// NewVerifier creates a verifier bound to the given anchor store and CRL.
func NewVerifier(anchors *AnchorStore, crl *CRLCache, options ...func(*Verifier)) *Verifier {
	v := &Verifier{
		anchors: anchors,
		crl:     crl,
		logger:  logrus.New(),
		now:     time.Now,
	}
	for _, option := range options {
		option(v)
	}
	if v.cache == nil {
		v.cache = newResultCache(DefaultCacheTTL, v.now)
	}
	return v
}

// WithVerifierLogger sets the logger
func WithVerifierLogger(logger *logrus.Logger) func(*Verifier) {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithCacheTTL sets the verification result cache TTL
func WithCacheTTL(ttl time.Duration) func(*Verifier) {
	return func(v *Verifier) {
		v.cache = newResultCache(ttl, v.now)
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) func(*Verifier) {
	return func(v *Verifier) {
		v.now = now
		v.cache = newResultCache(DefaultCacheTTL, now)
	}
}

// InvalidateCache drops all cached verification results. Callers that
// rotate the CRL can use this to close the staleness window early.
func (v *Verifier) InvalidateCache() {
	v.cache.purge()
}

// Verify runs the full verification pipeline for the plugin tree at
// pluginPath. An empty manifestPath defaults to plugin.json inside the
// tree. Results are cached for the configured TTL keyed by both paths;
// callers must not assume a cached result reflects a just-rotated CRL.
func (v *Verifier) Verify(pluginPath, manifestPath string) *models.VerificationResult {
	if manifestPath == "" {
		manifestPath = filepath.Join(pluginPath, "plugin.json")
	}

	if cached, ok := v.cache.get(pluginPath, manifestPath); ok {
		return cached
	}

	result := v.verify(pluginPath, manifestPath)
	result.VerifiedAt = v.now()
	result.Valid = !result.HasFatal()
	if result.TrustLevel == "" {
		result.TrustLevel = models.TrustUntrusted
	}

	v.logger.WithFields(logrus.Fields{
		"plugin_path": pluginPath,
		"valid":       result.Valid,
		"trust_level": result.TrustLevel,
		"errors":      len(result.Errors),
		"warnings":    len(result.Warnings),
	}).Info("Completed signature verification")

	v.cache.put(pluginPath, manifestPath, result)
	return result
}

func (v *Verifier) verify(pluginPath, manifestPath string) *models.VerificationResult {
	result := &models.VerificationResult{TrustLevel: models.TrustUntrusted}

	// LOAD_MANIFEST
	manifest, err := models.LoadManifest(manifestPath)
	if err != nil {
		result.AddError(models.VerifyManifestInvalid, models.ErrorSeverityFatal, stepLoadManifest, err.Error())
		return result
	}
	if manifest.Signature == nil || manifest.Signature.Certificate == nil || manifest.Signature.Value == "" {
		result.AddError(models.VerifySignatureInvalid, models.ErrorSeverityFatal, stepLoadManifest,
			"manifest has no signature block")
		return result
	}
	block := manifest.Signature

	// CHECK_SIGNATURE
	sigBytes, err := base64.StdEncoding.DecodeString(block.Value)
	if err != nil {
		result.AddError(models.VerifySignatureInvalid, models.ErrorSeverityFatal, stepCheckSignature,
			"signature value is not valid base64")
		return result
	}
	if block.Algorithm != SignatureAlgorithm {
		result.AddError(models.VerifySignatureInvalid, models.ErrorSeverityFatal, stepCheckSignature,
			fmt.Sprintf("unsupported signature algorithm %q", block.Algorithm))
		return result
	}

	// PARSE_CERT
	cert := *block.Certificate
	if len(cert.PublicKey) != ed25519.PublicKeySize {
		result.AddError(models.VerifySignatureInvalid, models.ErrorSeverityFatal, stepParseCert,
			"signer certificate carries an invalid public key")
		return result
	}
	if cert.Fingerprint == "" {
		cert.Fingerprint = Fingerprint(&cert)
	}

	payload := signedPayload(block.ContentHash, block.SignedAttributes)
	if !ed25519.Verify(ed25519.PublicKey(cert.PublicKey), payload, sigBytes) {
		result.AddError(models.VerifySignatureInvalid, models.ErrorSeverityFatal, stepCheckSignature,
			"signature does not verify against the signer certificate")
		return result
	}

	// BUILD_CHAIN: leaf appended to the provided intermediates; complete
	// iff any certificate in the chain matches a registered anchor.
	chain := append(append([]models.PluginCertificate{}, block.CertificateChain...), cert)
	for i := range chain {
		if chain[i].Fingerprint == "" {
			chain[i].Fingerprint = Fingerprint(&chain[i])
		}
	}
	result.Chain = chain

	var anchor *models.TrustAnchor
	for i := range chain {
		if a, ok := v.anchors.Lookup(chain[i].Fingerprint); ok {
			anchor = &a
			break
		}
	}
	if anchor == nil {
		result.AddError(models.VerifyChainIncomplete, models.ErrorSeverityError, stepBuildChain,
			"certificate chain does not terminate at a registered trust anchor")
	}

	// CHECK_TIME_VALIDITY
	now := v.now()
	if now.Before(cert.ValidFrom) {
		result.AddError(models.VerifyTimeValidationFailed, models.ErrorSeverityError, stepTimeValidity,
			fmt.Sprintf("certificate not valid before %s", cert.ValidFrom.Format(time.RFC3339)))
	} else if now.After(cert.ValidTo) {
		result.AddError(models.VerifyCertificateExpired, models.ErrorSeverityError, stepTimeValidity,
			fmt.Sprintf("certificate expired at %s", cert.ValidTo.Format(time.RFC3339)))
	} else if cert.ValidTo.Sub(now) < expiryWarningWindow {
		result.AddWarning(models.VerifyCertificateExpiringSoon, stepTimeValidity,
			fmt.Sprintf("certificate expires at %s", cert.ValidTo.Format(time.RFC3339)))
	}

	// CHECK_REVOCATION
	if reason, revoked := v.crl.IsRevoked(cert.Serial); revoked {
		for i := range result.Chain {
			if result.Chain[i].Serial == cert.Serial {
				result.Chain[i].Revoked = true
				result.Chain[i].RevokedReason = reason
			}
		}
		result.AddError(models.VerifyCertificateRevoked, models.ErrorSeverityFatal, stepRevocation,
			fmt.Sprintf("certificate %s is revoked: %s", cert.Serial, reason))
		return result
	}

	// VALIDATE_TRUST
	if anchor != nil {
		result.TrustLevel = anchor.TrustLevel
	} else {
		result.TrustLevel = models.TrustUntrusted
		result.AddError(models.VerifyTrustAnchorNotFound, models.ErrorSeverityError, stepValidateTrust,
			"no matching trust anchor; trust level forced to UNTRUSTED")
	}

	// VERIFY_CONTENT_HASH
	contentHash, err := TreeContentHash(pluginPath, manifestPath)
	if err != nil {
		result.AddError(models.VerifyHashMismatch, models.ErrorSeverityFatal, stepVerifyContentHash,
			fmt.Sprintf("failed to hash plugin tree: %v", err))
		return result
	}
	if contentHash != block.ContentHash {
		result.AddError(models.VerifyHashMismatch, models.ErrorSeverityFatal, stepVerifyContentHash,
			"plugin tree content hash does not match the signed hash")
		return result
	}

	// VALIDATE_PERMISSIONS: manifest permissions must be a subset of the
	// certificate grant; excess permissions are surfaced for policy
	// decision, not blocked here.
	granted := make(map[string]bool, len(cert.Permissions))
	for _, p := range cert.Permissions {
		granted[p] = true
	}
	for _, p := range manifest.Permissions {
		if !granted[p] && !granted["*"] {
			result.AddError(models.VerifyPermissionMismatch, models.ErrorSeverityError, stepPermissions,
				fmt.Sprintf("manifest declares permission %q not granted by the certificate", p))
		}
	}

	return result
}
