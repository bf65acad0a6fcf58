package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePluginID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		opts    []ValidationOptions
		wantErr string
	}{
		{"valid slug", "payment-gateway", nil, ""},
		{"valid reverse dns", "com.example.analytics", nil, ""},
		{"empty required", "", nil, "REQUIRED"},
		{"empty optional", "", []ValidationOptions{{Required: false, MaxLength: 64}}, ""},
		{"uppercase rejected", "MyPlugin", nil, "INVALID_FORMAT"},
		{"leading dash rejected", "-plugin", nil, "INVALID_FORMAT"},
		{"too long", string(make([]byte, 300)), []ValidationOptions{{Required: true, MaxLength: 128}}, "TOO_LONG"},
		{"reserved prefix strict", "system.loader", []ValidationOptions{StrictOptions}, "RESERVED"},
		{"reserved prefix lenient", "system.loader", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePluginID(tt.id, tt.opts...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Code)
		})
	}
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion("1.2.3"))
	assert.NoError(t, ValidateVersion("v0.1.0"))
	assert.NoError(t, ValidateVersion("2.0.0-rc.1"))
	assert.NoError(t, ValidateVersion("1.0.0+build.5"))
	assert.Error(t, ValidateVersion("1.2"))
	assert.Error(t, ValidateVersion("latest"))
	assert.Error(t, ValidateVersion(""))
}

func TestValidatePermission(t *testing.T) {
	assert.NoError(t, ValidatePermission("storage:read"))
	assert.NoError(t, ValidatePermission("network:http_get"))
	assert.Error(t, ValidatePermission("storage"))
	assert.Error(t, ValidatePermission("Storage:Read"))
	assert.Error(t, ValidatePermission(":read"))

	allowed := ValidationOptions{Required: true, AllowedValues: []string{"storage:read"}}
	assert.NoError(t, ValidatePermission("storage:read", allowed))

	err := ValidatePermission("network:connect", allowed)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "NOT_ALLOWED", verr.Code)
}

func TestValidatePath(t *testing.T) {
	opts := ValidationOptions{Required: true, MaxLength: 256}

	assert.NoError(t, ValidatePath("plugins/payment/main.js", opts))
	assert.NoError(t, ValidatePath("/var/lib/sentinel/workspace", opts))

	err := ValidatePath("../../etc/passwd", opts)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "PATH_TRAVERSAL", verr.Code)

	assert.Error(t, ValidatePath("file\x00name", opts))
	assert.Error(t, ValidatePath("", opts))
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(8080))
	assert.NoError(t, ValidatePort(1))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(70000))
}

func TestValidateHexDigest(t *testing.T) {
	assert.NoError(t, ValidateHexDigest("a3f1b2c4d5e6a7b8a3f1b2c4d5e6a7b8a3f1b2c4d5e6a7b8a3f1b2c4d5e6a7b8", 32))
	assert.Error(t, ValidateHexDigest("abc", 32))
	assert.Error(t, ValidateHexDigest("zz", 1))
}

func TestValidateJSONInput(t *testing.T) {
	assert.NoError(t, ValidateJSONInput(`{"name":"test","permissions":["storage:read"]}`, 5))
	assert.Error(t, ValidateJSONInput(`{"name":`, 5))
	assert.Error(t, ValidateJSONInput(`{"a":{"b":{"c":{"d":1}}}}`, 2))
	assert.NoError(t, ValidateJSONInput("", 5, ValidationOptions{Required: false}))
	assert.Error(t, ValidateJSONInput("", 5, ValidationOptions{Required: true}))
}

func TestValidateStruct(t *testing.T) {
	type manifest struct {
		Name    string `validate:"required"`
		Version string `validate:"required"`
	}

	result := ValidateStruct(manifest{Name: "test", Version: "1.0.0"})
	assert.True(t, result.IsValid())

	result = ValidateStruct(manifest{Name: "test"})
	assert.False(t, result.IsValid())
	require.NotNil(t, result.First())
	assert.Equal(t, "Version", result.First().Field)
	assert.Equal(t, "REQUIRED", result.First().Code)
}

func TestRedactSensitiveData(t *testing.T) {
	data := map[string]interface{}{
		"plugin_id": "payment-gateway",
		"api_token": "secret-value",
		"nested": map[string]interface{}{
			"password": "hunter2",
			"host":     "localhost",
		},
	}

	redacted := RedactSensitiveData(data)
	assert.Equal(t, "payment-gateway", redacted["plugin_id"])
	assert.Equal(t, "[REDACTED]", redacted["api_token"])

	nested, ok := redacted["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", nested["password"])
	assert.Equal(t, "localhost", nested["host"])
}

func TestValidationResult(t *testing.T) {
	result := NewValidationResult()
	assert.True(t, result.IsValid())
	assert.Nil(t, result.First())

	result.AddError("pluginId", "INVALID_FORMAT", "bad id", "My Plugin")
	result.AddError("secret", "REQUIRED", "missing", "value")

	assert.False(t, result.IsValid())
	assert.Len(t, result.GetErrors(), 2)
	assert.Equal(t, "pluginId", result.First().Field)
	assert.Equal(t, "My Plugin", result.First().Value)
	// Sensitive field values are masked
	assert.Equal(t, "[REDACTED]", result.GetErrors()[1].Value)

	byField := result.ErrorsByField()
	assert.Equal(t, "bad id", byField["pluginId"])

	other := NewValidationResult()
	other.AddError("version", "REQUIRED", "missing")
	result.MergeResults(other)
	assert.Len(t, result.GetErrors(), 3)
}
