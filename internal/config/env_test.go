package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderGet(t *testing.T) {
	provider := NewEnvProvider("PSTEST")

	t.Setenv("PSTEST_VALUE", "hello")
	assert.Equal(t, "hello", provider.Get("VALUE", "fallback"))
	assert.Equal(t, "fallback", provider.Get("MISSING", "fallback"))
}

func TestEnvProviderRequire(t *testing.T) {
	provider := NewEnvProvider("PSTEST")

	_, err := provider.Require("ABSENT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnvVarEmpty)

	t.Setenv("PSTEST_PRESENT", "yes")
	value, err := provider.Require("PRESENT")
	require.NoError(t, err)
	assert.Equal(t, "yes", value)
}

func TestEnvProviderTypedGetters(t *testing.T) {
	provider := NewEnvProvider("PSTEST")

	t.Setenv("PSTEST_BOOL", "true")
	t.Setenv("PSTEST_BAD_BOOL", "definitely")
	assert.True(t, provider.GetBool("BOOL", false))
	assert.False(t, provider.GetBool("BAD_BOOL", false))
	assert.True(t, provider.GetBool("NO_BOOL", true))

	t.Setenv("PSTEST_INT", "42")
	t.Setenv("PSTEST_BAD_INT", "forty-two")
	assert.Equal(t, 42, provider.GetInt("INT", 7))
	assert.Equal(t, 7, provider.GetInt("BAD_INT", 7))

	t.Setenv("PSTEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, provider.GetDuration("DURATION", time.Minute))
	assert.Equal(t, time.Minute, provider.GetDuration("NO_DURATION", time.Minute))

	t.Setenv("PSTEST_SLICE", "a, b ,c,")
	assert.Equal(t, []string{"a", "b", "c"}, provider.GetStringSlice("SLICE", nil))
}

func TestEnvProviderEnvironment(t *testing.T) {
	provider := NewEnvProvider("PSTEST")

	assert.Equal(t, EnvDevelopment, provider.Environment())
	assert.False(t, provider.IsProduction())

	t.Setenv("PSTEST_ENV", EnvProduction)
	assert.Equal(t, EnvProduction, provider.Environment())
	assert.True(t, provider.IsProduction())
}

func TestEnvProviderSecret(t *testing.T) {
	provider := NewEnvProvider("PSTEST")

	assert.Equal(t, "default", provider.GetSecret("TOKEN", "default"))
	t.Setenv("PSTEST_TOKEN", "s3cret")
	assert.Equal(t, "s3cret", provider.GetSecret("TOKEN", "default"))
}
