package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// Signing constants
const (
	// SignatureAlgorithm is the only supported signature algorithm
	SignatureAlgorithm = "ed25519"

	// HashAlgorithm is the only supported content hash algorithm
	HashAlgorithm = "sha256"

	// ContentTypeAttribute marks the signed content type
	ContentTypeAttribute = "application/vnd.plugin.manifest+json"

	// pbkdf2Iterations for passphrase-derived key wrapping
	pbkdf2Iterations = 4096
)

// Signer errors
var (
	// ErrBadKeySize indicates a private key of the wrong length
	ErrBadKeySize = errors.New("invalid ed25519 private key size")

	// ErrBadPassphrase indicates a key could not be unwrapped
	ErrBadPassphrase = errors.New("failed to decrypt private key")
)

// Signer signs plugin trees, producing manifest signature blocks.
type Signer struct {
	logger *logrus.Logger
}

// NewSigner creates a signer.
func NewSigner(logger *logrus.Logger) *Signer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Signer{logger: logger}
}

// signedPayload builds the deterministic byte string covered by the
// signature: the content hash followed by every signed attribute in order.
func signedPayload(contentHash string, attrs []models.SignedAttribute) []byte {
	payload := []byte(contentHash)
	for _, a := range attrs {
		payload = append(payload, 0)
		payload = append(payload, []byte(a.Name)...)
		payload = append(payload, '=')
		payload = append(payload, []byte(a.Value)...)
	}
	return payload
}

// Sign computes the plugin tree's content hash, assembles the signed
// attributes and signs them with the private key. The certificate chain is
// attached for later chain building. Re-signing always produces a new
// signature object.
func (s *Signer) Sign(pluginPath, manifestPath string, cert models.PluginCertificate, chain []models.PluginCertificate, key ed25519.PrivateKey) (*models.PluginSignature, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrBadKeySize
	}
	if manifestPath == "" {
		manifestPath = filepath.Join(pluginPath, "plugin.json")
	}

	contentHash, err := TreeContentHash(pluginPath, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash plugin tree: %w", err)
	}

	signingTime := time.Now().UTC()
	attrs := []models.SignedAttribute{
		{Name: "signing-time", Value: signingTime.Format(time.RFC3339)},
		{Name: "content-type", Value: ContentTypeAttribute},
	}

	sig := ed25519.Sign(key, signedPayload(contentHash, attrs))

	if cert.Fingerprint == "" {
		cert.Fingerprint = Fingerprint(&cert)
	}

	s.logger.WithFields(logrus.Fields{
		"plugin_path": pluginPath,
		"signer":      cert.Subject,
	}).Info("Signed plugin tree")

	return &models.PluginSignature{
		Algorithm:        SignatureAlgorithm,
		Value:            sig,
		ContentHash:      contentHash,
		HashAlgorithm:    HashAlgorithm,
		SigningTime:      signingTime,
		SignedAttributes: attrs,
		Certificate:      cert,
		CertificateChain: chain,
	}, nil
}

// SignAndAttach signs the tree and writes the signature block into the
// manifest file at manifestPath.
func (s *Signer) SignAndAttach(pluginPath, manifestPath string, cert models.PluginCertificate, chain []models.PluginCertificate, key ed25519.PrivateKey) (*models.PluginSignature, error) {
	if manifestPath == "" {
		manifestPath = filepath.Join(pluginPath, "plugin.json")
	}
	manifest, err := models.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	sig, err := s.Sign(pluginPath, manifestPath, cert, chain, key)
	if err != nil {
		return nil, err
	}

	certCopy := sig.Certificate
	manifest.Signature = &models.SignatureBlock{
		Algorithm:        sig.Algorithm,
		Value:            base64.StdEncoding.EncodeToString(sig.Value),
		SigningTime:      sig.SigningTime,
		ContentHash:      sig.ContentHash,
		HashAlgorithm:    sig.HashAlgorithm,
		SignedAttributes: sig.SignedAttributes,
		Certificate:      &certCopy,
		CertificateChain: sig.CertificateChain,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return sig, nil
}

// GenerateCertificate creates a self-signed ed25519 certificate, suitable
// for use as a trust anchor or a standalone signer.
func GenerateCertificate(subject string, permissions []string, validFor time.Duration) (models.PluginCertificate, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.PluginCertificate{}, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial := make([]byte, 16)
	if _, err := rand.Read(serial); err != nil {
		return models.PluginCertificate{}, nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	now := time.Now().UTC()
	cert := models.PluginCertificate{
		Subject:     subject,
		Issuer:      subject,
		Serial:      hex.EncodeToString(serial),
		ValidFrom:   now,
		ValidTo:     now.Add(validFor),
		PublicKey:   pub,
		Permissions: permissions,
	}
	cert.Fingerprint = Fingerprint(&cert)
	return cert, priv, nil
}

// GenerateLeafCertificate creates a certificate issued under the given
// issuer, for signing individual plugins.
func GenerateLeafCertificate(subject string, issuer models.PluginCertificate, permissions []string, validFor time.Duration) (models.PluginCertificate, ed25519.PrivateKey, error) {
	cert, priv, err := GenerateCertificate(subject, permissions, validFor)
	if err != nil {
		return models.PluginCertificate{}, nil, err
	}
	cert.Issuer = issuer.Subject
	cert.Fingerprint = Fingerprint(&cert)
	return cert, priv, nil
}

// EncryptPrivateKey wraps a private key with a passphrase-derived AES-GCM
// key. The output is salt || nonce || ciphertext.
func EncryptPrivateKey(key ed25519.PrivateKey, passphrase string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, key, nil)
	out := append(salt, nonce...)
	return append(out, sealed...), nil
}

// DecryptPrivateKey unwraps a key produced by EncryptPrivateKey.
func DecryptPrivateKey(wrapped []byte, passphrase string) (ed25519.PrivateKey, error) {
	if len(wrapped) < 16 {
		return nil, ErrBadPassphrase
	}
	salt, rest := wrapped[:16], wrapped[16:]
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, ErrBadPassphrase
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	key, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrBadKeySize
	}
	return ed25519.PrivateKey(key), nil
}
