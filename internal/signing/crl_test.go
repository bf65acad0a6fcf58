package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRLCacheRevoke(t *testing.T) {
	crl := NewCRLCache(testLogger())

	_, revoked := crl.IsRevoked("serial-1")
	assert.False(t, revoked)

	crl.Revoke("serial-1", "key compromise")

	reason, revoked := crl.IsRevoked("serial-1")
	assert.True(t, revoked)
	assert.Equal(t, "key compromise", reason)

	_, revoked = crl.IsRevoked("serial-2")
	assert.False(t, revoked)
}

func TestCRLCacheSerials(t *testing.T) {
	crl := NewCRLCache(testLogger())
	assert.Empty(t, crl.Serials())

	crl.Revoke("serial-1", "key compromise")
	crl.Revoke("serial-2", "superseded")
	crl.Revoke("serial-1", "key compromise")

	assert.ElementsMatch(t, []string{"serial-1", "serial-2"}, crl.Serials())
}
