// Package validation provides request validation helpers for the riskd API.
package validation

import (
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxBulkRequestSize bounds bulk and import bodies (8MB).
const MaxBulkRequestSize = 8 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// RequestSizeMiddleware limits request body size. Paths ending in /bulk or
// /import get bulkSize instead.
func RequestSizeMiddleware(maxSize, bulkSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxSize
		path := c.Request.URL.Path
		if strings.HasSuffix(path, "/bulk") || strings.HasSuffix(path, "/import") {
			limit = bulkSize
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// IsUUID reports whether s is a canonical hyphenated UUID of version 1-5
// with the RFC 4122 variant. Case-insensitive.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if id.Variant() != uuid.RFC4122 {
		return false
	}
	v := id.Version()
	return v >= 1 && v <= 5
}

// IsSlug reports whether s is a lowercase dash-separated slug.
func IsSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// SanitizeString removes NUL bytes and limits s to maxLen bytes without
// splitting a multi-byte rune.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of field-level validation failures.
type ValidationErrors []FieldError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Fields returns the failures keyed by field name. When a field failed more
// than once the first message wins.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, fe := range e {
		if _, ok := out[fe.Field]; !ok {
			out[fe.Field] = fe.Message
		}
	}
	return out
}

// Add appends a failure.
func (e *ValidationErrors) Add(field, format string, args ...any) {
	*e = append(*e, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns e as an error, or nil when empty.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Single builds a one-field ValidationErrors.
func Single(field, message string) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message}}
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *FieldError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *FieldError {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// UUID checks that a non-empty field is a v1-v5 UUID.
func UUID(field, value string) func() *FieldError {
	return func() *FieldError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsUUID(value) {
			return &FieldError{Field: field, Message: "must be a valid UUID"}
		}
		return nil
	}
}

// CategoryID checks that a non-empty field is a UUID, or a lowercase slug
// when allowSlug is set.
func CategoryID(field, value string, allowSlug bool) func() *FieldError {
	return func() *FieldError {
		if value == "" || IsUUID(value) {
			return nil
		}
		if allowSlug {
			if IsSlug(value) {
				return nil
			}
			return &FieldError{Field: field, Message: "must be a valid UUID or lowercase slug"}
		}
		return &FieldError{Field: field, Message: "must be a valid UUID"}
	}
}

// OneOf checks that a non-empty field is one of allowed.
func OneOf(field, value string, allowed ...string) func() *FieldError {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// NonNegative checks that a number is finite and >= 0.
func NonNegative(field string, value float64) func() *FieldError {
	return func() *FieldError {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &FieldError{Field: field, Message: "must be a finite number"}
		}
		if value < 0 {
			return &FieldError{Field: field, Message: "must be greater than or equal to 0"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *FieldError {
	return func() *FieldError {
		if len(value) > max {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// UUIDParamMiddleware rejects requests whose named URL params are not UUIDs.
func UUIDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			if v := c.Param(p); v != "" && !IsUUID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "validation_error",
					"message": p + " must be a valid UUID",
					"details": Single(p, "must be a valid UUID"),
				})
				return
			}
		}
		c.Next()
	}
}
