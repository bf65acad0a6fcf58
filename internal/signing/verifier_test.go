package signing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/models"
)

type verifyFixture struct {
	anchors *AnchorStore
	crl     *CRLCache
	root    models.PluginCertificate
	leaf    models.PluginCertificate
	plugin  string
	sig     *models.PluginSignature
}

// signedFixture builds a plugin tree signed by a leaf certificate chained
// to a registered trust anchor.
func signedFixture(t *testing.T, permissions []string) *verifyFixture {
	t.Helper()

	anchors := NewAnchorStore(testLogger())
	crl := NewCRLCache(testLogger())

	root, _, err := GenerateCertificate("Vendor Root CA", []string{"*"}, 48*time.Hour)
	require.NoError(t, err)
	require.NoError(t, anchors.Add(root, models.TrustHigh, "tester"))

	leaf, key, err := GenerateLeafCertificate("Plugin Signer", root, []string{"*"}, 48*time.Hour)
	require.NoError(t, err)

	pluginPath, manifestPath := writePluginTree(t, "demo-plugin", permissions)
	sig, err := NewSigner(testLogger()).SignAndAttach(pluginPath, manifestPath, leaf, []models.PluginCertificate{root}, key)
	require.NoError(t, err)

	return &verifyFixture{anchors: anchors, crl: crl, root: root, leaf: leaf, plugin: pluginPath, sig: sig}
}

func errorCodes(errs []models.VerificationError) []models.VerificationErrorCode {
	codes := make([]models.VerificationErrorCode, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestVerifierValidSignature(t *testing.T) {
	fx := signedFixture(t, nil)
	verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()))

	result := verifier.Verify(fx.plugin, "")
	require.NotNil(t, result)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, models.TrustHigh, result.TrustLevel, "trust level should come from the matching anchor")
	assert.Len(t, result.Chain, 2)
	assert.False(t, result.VerifiedAt.IsZero())
}

func TestVerifierManifestErrors(t *testing.T) {
	verifier := NewVerifier(NewAnchorStore(testLogger()), NewCRLCache(testLogger()), WithVerifierLogger(testLogger()))

	t.Run("missing manifest", func(t *testing.T) {
		result := verifier.Verify(t.TempDir(), "")
		assert.False(t, result.Valid)
		assert.Contains(t, errorCodes(result.Errors), models.VerifyManifestInvalid)
		assert.Equal(t, models.TrustUntrusted, result.TrustLevel)
	})

	t.Run("unsigned manifest", func(t *testing.T) {
		pluginPath, _ := writePluginTree(t, "unsigned-plugin", nil)
		result := verifier.Verify(pluginPath, "")
		assert.False(t, result.Valid)
		assert.Contains(t, errorCodes(result.Errors), models.VerifySignatureInvalid)
	})
}

func TestVerifierTamperedTree(t *testing.T) {
	fx := signedFixture(t, nil)
	verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()))

	require.NoError(t, os.WriteFile(filepath.Join(fx.plugin, "index.js"), []byte("require('child_process');"), 0o644))

	result := verifier.Verify(fx.plugin, "")
	assert.False(t, result.Valid)
	assert.Contains(t, errorCodes(result.Errors), models.VerifyHashMismatch)
}

func TestVerifierRevokedCertificate(t *testing.T) {
	fx := signedFixture(t, nil)
	fx.crl.Revoke(fx.leaf.Serial, "key compromise")

	verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()))
	result := verifier.Verify(fx.plugin, "")

	assert.False(t, result.Valid)
	assert.Contains(t, errorCodes(result.Errors), models.VerifyCertificateRevoked)

	var leafEntry *models.PluginCertificate
	for i := range result.Chain {
		if result.Chain[i].Serial == fx.leaf.Serial {
			leafEntry = &result.Chain[i]
		}
	}
	require.NotNil(t, leafEntry)
	assert.True(t, leafEntry.Revoked)
	assert.Equal(t, "key compromise", leafEntry.RevokedReason)
}

func TestVerifierWithoutAnchor(t *testing.T) {
	fx := signedFixture(t, nil)
	// Fresh anchor store: the chain no longer terminates anywhere.
	verifier := NewVerifier(NewAnchorStore(testLogger()), fx.crl, WithVerifierLogger(testLogger()))

	result := verifier.Verify(fx.plugin, "")
	assert.True(t, result.Valid, "a well-formed signature without an anchor degrades trust, it does not invalidate")
	assert.Equal(t, models.TrustUntrusted, result.TrustLevel)
	codes := errorCodes(result.Errors)
	assert.Contains(t, codes, models.VerifyChainIncomplete)
	assert.Contains(t, codes, models.VerifyTrustAnchorNotFound)
}

func TestVerifierCertificateLifetime(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		fx := signedFixture(t, nil)
		clock := func() time.Time { return time.Now().Add(72 * time.Hour) }
		verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()), WithClock(clock))

		result := verifier.Verify(fx.plugin, "")
		assert.Contains(t, errorCodes(result.Errors), models.VerifyCertificateExpired)
		assert.True(t, result.Valid, "expiry is an ERROR, not FATAL")
	})

	t.Run("expiring soon", func(t *testing.T) {
		fx := signedFixture(t, nil)
		verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()))

		result := verifier.Verify(fx.plugin, "")
		// Fixture certificates live 48h, inside the 30-day warning window.
		assert.Contains(t, errorCodes(result.Warnings), models.VerifyCertificateExpiringSoon)
		assert.Empty(t, result.Errors)
	})
}

func TestVerifierPermissionValidation(t *testing.T) {
	anchors := NewAnchorStore(testLogger())
	crl := NewCRLCache(testLogger())

	root, _, err := GenerateCertificate("Vendor Root CA", nil, 48*time.Hour)
	require.NoError(t, err)
	require.NoError(t, anchors.Add(root, models.TrustMedium, "tester"))

	leaf, key, err := GenerateLeafCertificate("Plugin Signer", root, []string{"fs:read"}, 48*time.Hour)
	require.NoError(t, err)

	pluginPath, manifestPath := writePluginTree(t, "greedy-plugin", []string{"fs:read", "net:outbound"})
	_, err = NewSigner(testLogger()).SignAndAttach(pluginPath, manifestPath, leaf, []models.PluginCertificate{root}, key)
	require.NoError(t, err)

	verifier := NewVerifier(anchors, crl, WithVerifierLogger(testLogger()))
	result := verifier.Verify(pluginPath, "")

	assert.True(t, result.Valid, "excess permissions are surfaced for policy, not blocked")
	assert.Contains(t, errorCodes(result.Errors), models.VerifyPermissionMismatch)
	assert.Equal(t, models.TrustMedium, result.TrustLevel)
}

func TestVerifierResultCache(t *testing.T) {
	fx := signedFixture(t, nil)

	current := time.Now()
	verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()), WithClock(func() time.Time { return current }))

	first := verifier.Verify(fx.plugin, "")
	require.True(t, first.Valid)
	assert.Same(t, first, verifier.Verify(fx.plugin, ""), "second lookup inside the TTL should hit the cache")

	// Tampering goes unnoticed while the cached result is live.
	require.NoError(t, os.WriteFile(filepath.Join(fx.plugin, "index.js"), []byte("tampered"), 0o644))
	assert.True(t, verifier.Verify(fx.plugin, "").Valid)

	verifier.InvalidateCache()
	assert.False(t, verifier.Verify(fx.plugin, "").Valid)
}

func TestVerifierCacheExpiry(t *testing.T) {
	fx := signedFixture(t, nil)

	current := time.Now()
	verifier := NewVerifier(fx.anchors, fx.crl, WithVerifierLogger(testLogger()), WithClock(func() time.Time { return current }))

	require.True(t, verifier.Verify(fx.plugin, "").Valid)

	require.NoError(t, os.WriteFile(filepath.Join(fx.plugin, "index.js"), []byte("tampered"), 0o644))
	current = current.Add(DefaultCacheTTL + time.Second)

	assert.False(t, verifier.Verify(fx.plugin, "").Valid, "expired cache entries must be recomputed")
}
