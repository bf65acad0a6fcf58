package utils

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Pre-compiled regular expressions for common validations
var (
	// Plugin identifiers follow reverse-DNS or slug conventions
	pluginIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,127}$`)

	// Semantic version with optional pre-release and build metadata
	versionRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

	// Permissions take the form resource:action, e.g. storage:read
	permissionRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*:[a-z][a-z0-9_*]*$`)

	// File path regex must match valid file paths
	filePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\/]+$`)

	// Hex string regex must match valid hexadecimal strings
	hexRegex = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsSensitiveField checks if a field is sensitive and should not be logged
func IsSensitiveField(field string) bool {
	lowerField := strings.ToLower(field)
	sensitiveFields := []string{
		"password", "token", "secret", "key", "auth", "cred", "private",
		"passphrase", "signature",
	}

	for _, sensitive := range sensitiveFields {
		if strings.Contains(lowerField, sensitive) {
			return true
		}
	}

	return false
}

// SanitizeValue sanitizes a value for logging
func SanitizeValue(field string, value interface{}) string {
	// Don't include values for sensitive fields
	if IsSensitiveField(field) {
		return "[REDACTED]"
	}

	switch v := value.(type) {
	case string:
		// Truncate long strings
		if len(v) > 100 {
			return v[:97] + "..."
		}
		return v
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ValidationResult contains the result of a validation operation.
type ValidationResult struct {
	Errors []*ValidationError `json:"errors"`
}

// NewValidationResult creates a new ValidationResult.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Errors: []*ValidationError{},
	}
}

// AddError adds an error to the validation result.
func (vr *ValidationResult) AddError(field, code, message string, value ...interface{}) {
	var valueStr string
	if len(value) > 0 {
		valueStr = SanitizeValue(field, value[0])
	}

	vr.Errors = append(vr.Errors, &ValidationError{
		Field:   field,
		Code:    code,
		Message: message,
		Value:   valueStr,
	})
}

// IsValid returns true if the validation passed.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// GetErrors returns all validation errors.
func (vr *ValidationResult) GetErrors() []*ValidationError {
	return vr.Errors
}

// First returns the first error or nil if there are no errors.
func (vr *ValidationResult) First() *ValidationError {
	if len(vr.Errors) == 0 {
		return nil
	}
	return vr.Errors[0]
}

// ErrorMessages returns all error messages.
func (vr *ValidationResult) ErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// ErrorsByField returns a map of field names to error messages.
func (vr *ValidationResult) ErrorsByField() map[string]string {
	errors := make(map[string]string)
	for _, err := range vr.Errors {
		errors[err.Field] = err.Message
	}
	return errors
}

// MergeResults merges the errors from another ValidationResult into this one.
func (vr *ValidationResult) MergeResults(other *ValidationResult) {
	vr.Errors = append(vr.Errors, other.Errors...)
}

// ToJSON returns the validation result as a JSON string.
func (vr *ValidationResult) ToJSON() (string, error) {
	bytes, err := json.Marshal(vr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// MaxLength is the maximum allowed length
	MaxLength int

	// MinLength is the minimum allowed length
	MinLength int

	// Required specifies if the value is required
	Required bool

	// StrictMode enables stricter validation rules
	StrictMode bool

	// AllowedValues is a list of allowed values
	AllowedValues []string
}

// Default validation options
var (
	DefaultOptions = ValidationOptions{
		MaxLength:  256,
		MinLength:  1,
		Required:   true,
		StrictMode: false,
	}

	StrictOptions = ValidationOptions{
		MaxLength:  256,
		MinLength:  1,
		Required:   true,
		StrictMode: true,
	}
)

// getOptions returns the validation options, using defaults if not provided
func getOptions(options []ValidationOptions) ValidationOptions {
	if len(options) > 0 {
		return options[0]
	}
	return DefaultOptions
}

// ValidatePluginID validates a plugin identifier.
func ValidatePluginID(id string, options ...ValidationOptions) error {
	opts := getOptions(options)

	if id == "" && opts.Required {
		return &ValidationError{
			Field:   "pluginId",
			Code:    "REQUIRED",
			Message: "Plugin ID is required",
		}
	}

	if id == "" && !opts.Required {
		return nil
	}

	if len(id) > opts.MaxLength {
		return &ValidationError{
			Field:   "pluginId",
			Code:    "TOO_LONG",
			Message: fmt.Sprintf("Plugin ID exceeds maximum length of %d", opts.MaxLength),
			Value:   id,
		}
	}

	if !pluginIDRegex.MatchString(id) {
		return &ValidationError{
			Field:   "pluginId",
			Code:    "INVALID_FORMAT",
			Message: "Plugin ID must be lowercase alphanumeric with dots, dashes or underscores",
			Value:   id,
		}
	}

	if opts.StrictMode {
		// Reserved prefixes cannot be claimed by third-party plugins
		reservedPrefixes := []string{"system.", "internal.", "core."}
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(id, prefix) {
				return &ValidationError{
					Field:   "pluginId",
					Code:    "RESERVED",
					Message: "Plugin ID uses a reserved prefix",
					Value:   id,
				}
			}
		}
	}

	return nil
}

// ValidateVersion validates a semantic version string.
func ValidateVersion(version string, options ...ValidationOptions) error {
	opts := getOptions(options)

	if version == "" && opts.Required {
		return &ValidationError{
			Field:   "version",
			Code:    "REQUIRED",
			Message: "Version is required",
		}
	}

	if version == "" && !opts.Required {
		return nil
	}

	if !versionRegex.MatchString(version) {
		return &ValidationError{
			Field:   "version",
			Code:    "INVALID_FORMAT",
			Message: "Version must follow semantic versioning (major.minor.patch)",
			Value:   version,
		}
	}

	return nil
}

// ValidatePermission validates a permission string of the form resource:action.
func ValidatePermission(permission string, options ...ValidationOptions) error {
	opts := getOptions(options)

	if permission == "" && opts.Required {
		return &ValidationError{
			Field:   "permission",
			Code:    "REQUIRED",
			Message: "Permission is required",
		}
	}

	if permission == "" && !opts.Required {
		return nil
	}

	if !permissionRegex.MatchString(permission) {
		return &ValidationError{
			Field:   "permission",
			Code:    "INVALID_FORMAT",
			Message: "Permission must take the form resource:action",
			Value:   permission,
		}
	}

	if len(opts.AllowedValues) > 0 {
		allowed := false
		for _, v := range opts.AllowedValues {
			if v == permission {
				allowed = true
				break
			}
		}
		if !allowed {
			return &ValidationError{
				Field:   "permission",
				Code:    "NOT_ALLOWED",
				Message: "Permission is not in the allowed set",
				Value:   permission,
			}
		}
	}

	return nil
}

// ValidatePath validates a filesystem path for traversal and control characters.
func ValidatePath(path string, options ...ValidationOptions) error {
	opts := getOptions(options)

	if path == "" && opts.Required {
		return &ValidationError{
			Field:   "path",
			Code:    "REQUIRED",
			Message: "Path is required",
		}
	}

	if path == "" && !opts.Required {
		return nil
	}

	if len(path) > opts.MaxLength {
		return &ValidationError{
			Field:   "path",
			Code:    "TOO_LONG",
			Message: fmt.Sprintf("Path exceeds maximum length of %d", opts.MaxLength),
			Value:   path,
		}
	}

	if strings.ContainsRune(path, '\x00') {
		return &ValidationError{
			Field:   "path",
			Code:    "INVALID_CHARACTER",
			Message: "Path contains a null byte",
		}
	}

	if !filePathRegex.MatchString(path) {
		return &ValidationError{
			Field:   "path",
			Code:    "INVALID_FORMAT",
			Message: "Path contains invalid characters",
			Value:   path,
		}
	}

	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, "/../") {
		return &ValidationError{
			Field:   "path",
			Code:    "PATH_TRAVERSAL",
			Message: "Path escapes its base directory",
			Value:   path,
		}
	}

	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   "port",
			Code:    "OUT_OF_RANGE",
			Message: "Port must be between 1 and 65535",
			Value:   fmt.Sprintf("%d", port),
		}
	}
	return nil
}

// ValidateHexDigest validates a hex-encoded digest of the given byte length.
func ValidateHexDigest(digest string, byteLen int) error {
	if len(digest) != byteLen*2 || !hexRegex.MatchString(digest) {
		return &ValidationError{
			Field:   "digest",
			Code:    "INVALID_FORMAT",
			Message: fmt.Sprintf("Digest must be %d hex characters", byteLen*2),
		}
	}
	return nil
}

// ValidateJSONInput validates that a JSON document parses and does not exceed
// the given nesting depth. Deeply nested manifests are rejected before they
// reach the decoder used by downstream components.
func ValidateJSONInput(jsonStr string, maxDepth int, options ...ValidationOptions) error {
	opts := getOptions(options)

	if jsonStr == "" && opts.Required {
		return &ValidationError{
			Field:   "json",
			Code:    "REQUIRED",
			Message: "JSON input is required",
		}
	}

	if jsonStr == "" && !opts.Required {
		return nil
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return &ValidationError{
			Field:   "json",
			Code:    "INVALID_JSON",
			Message: "Input is not valid JSON",
		}
	}

	if maxDepth > 0 && getJSONDepth(parsed) > maxDepth {
		return &ValidationError{
			Field:   "json",
			Code:    "TOO_DEEP",
			Message: fmt.Sprintf("JSON nesting exceeds maximum depth of %d", maxDepth),
		}
	}

	return nil
}

// getJSONDepth returns the nesting depth of a decoded JSON value.
func getJSONDepth(js interface{}) int {
	switch v := js.(type) {
	case map[string]interface{}:
		max := 0
		for _, value := range v {
			if d := getJSONDepth(value); d > max {
				max = d
			}
		}
		return max + 1
	case []interface{}:
		max := 0
		for _, value := range v {
			if d := getJSONDepth(value); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}

// structValidator is the shared validator instance for struct tags.
var structValidator = validator.New()

// ValidateStruct validates a struct using its validate tags.
func ValidateStruct(s interface{}) *ValidationResult {
	result := NewValidationResult()

	err := structValidator.Struct(s)
	if err == nil {
		return result
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		result.AddError("struct", "INVALID", err.Error())
		return result
	}

	for _, fieldErr := range validationErrors {
		result.AddError(
			fieldErr.Field(),
			strings.ToUpper(fieldErr.Tag()),
			fmt.Sprintf("Field failed validation on the '%s' rule", fieldErr.Tag()),
			fieldErr.Value(),
		)
	}

	return result
}

// RedactSensitiveData returns a copy of the map with sensitive values masked.
func RedactSensitiveData(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		if IsSensitiveField(key) {
			result[key] = "[REDACTED]"
			continue
		}
		if nested, ok := value.(map[string]interface{}); ok {
			result[key] = RedactSensitiveData(nested)
			continue
		}
		result[key] = value
	}
	return result
}
