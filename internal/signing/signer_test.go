package signing

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/models"
)

func writePluginTree(t *testing.T, id string, permissions []string) (string, string) {
	t.Helper()
	root := writeTree(t, map[string]string{
		"index.js":    "module.exports = {};",
		"lib/util.js": "exports.noop = () => {};",
	})
	manifest := models.PluginManifest{
		ID:          id,
		Name:        "Demo Plugin",
		Version:     "1.0.0",
		Entry:       "index.js",
		Permissions: permissions,
	}
	manifestPath := filepath.Join(root, "plugin.json")
	data, err := json.MarshalIndent(&manifest, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, data, 0o644))
	return root, manifestPath
}

func TestSignerSign(t *testing.T) {
	pluginPath, manifestPath := writePluginTree(t, "demo-plugin", nil)
	cert, key, err := GenerateCertificate("Plugin Signer", []string{"fs:read"}, 24*time.Hour)
	require.NoError(t, err)

	signer := NewSigner(testLogger())
	sig, err := signer.Sign(pluginPath, manifestPath, cert, nil, key)
	require.NoError(t, err)

	assert.Equal(t, SignatureAlgorithm, sig.Algorithm)
	assert.Equal(t, HashAlgorithm, sig.HashAlgorithm)
	assert.NotEmpty(t, sig.ContentHash)
	assert.Equal(t, cert.Fingerprint, sig.Certificate.Fingerprint)

	payload := signedPayload(sig.ContentHash, sig.SignedAttributes)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(cert.PublicKey), payload, sig.Value))

	hash, err := TreeContentHash(pluginPath, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, hash, sig.ContentHash)
}

func TestSignerSignRejectsBadKey(t *testing.T) {
	pluginPath, manifestPath := writePluginTree(t, "demo-plugin", nil)
	cert, _, err := GenerateCertificate("Plugin Signer", nil, 24*time.Hour)
	require.NoError(t, err)

	signer := NewSigner(testLogger())
	_, err = signer.Sign(pluginPath, manifestPath, cert, nil, make([]byte, 7))
	assert.ErrorIs(t, err, ErrBadKeySize)
}

func TestSignerSignAndAttach(t *testing.T) {
	pluginPath, manifestPath := writePluginTree(t, "demo-plugin", nil)
	cert, key, err := GenerateCertificate("Plugin Signer", nil, 24*time.Hour)
	require.NoError(t, err)

	signer := NewSigner(testLogger())
	sig, err := signer.SignAndAttach(pluginPath, manifestPath, cert, nil, key)
	require.NoError(t, err)

	manifest, err := models.LoadManifest(manifestPath)
	require.NoError(t, err)
	require.NotNil(t, manifest.Signature)
	assert.Equal(t, sig.ContentHash, manifest.Signature.ContentHash)
	assert.NotEmpty(t, manifest.Signature.Value)
	require.NotNil(t, manifest.Signature.Certificate)
	assert.Equal(t, cert.Fingerprint, manifest.Signature.Certificate.Fingerprint)
}

func TestGenerateLeafCertificate(t *testing.T) {
	root, _, err := GenerateCertificate("Vendor Root CA", []string{"*"}, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, root.IsSelfSigned())

	leaf, key, err := GenerateLeafCertificate("Plugin Signer", root, []string{"fs:read"}, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, leaf.IsSelfSigned())
	assert.Equal(t, root.Subject, leaf.Issuer)
	assert.Len(t, key, ed25519.PrivateKeySize)
	assert.Equal(t, Fingerprint(&leaf), leaf.Fingerprint)
}

func TestPrivateKeyEncryption(t *testing.T) {
	_, key, err := GenerateCertificate("Plugin Signer", nil, 24*time.Hour)
	require.NoError(t, err)

	wrapped, err := EncryptPrivateKey(key, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), string(key))

	unwrapped, err := DecryptPrivateKey(wrapped, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)

	_, err = DecryptPrivateKey(wrapped, "wrong passphrase")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	_, err = DecryptPrivateKey([]byte("short"), "correct horse")
	assert.ErrorIs(t, err, ErrBadPassphrase)
}
