// Package validation provides input validation helpers and middleware
// for the FleetMaster API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxNameLength caps free-text name fields.
const MaxNameLength = 200

var (
	// emailRegex is deliberately loose; deliverability is what actually
	// validates an address, via the confirmation mail.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// plateRegex matches Colombian vehicle plates (ABC123 / ABC12D).
	plateRegex = regexp.MustCompile(`^[A-Z]{3}[0-9]{2}[0-9A-Z]$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidEmail checks if a string looks like an email address.
func ValidEmail(s string) bool {
	return len(s) <= 254 && emailRegex.MatchString(strings.TrimSpace(s))
}

// ValidPlate checks if a string is a valid vehicle plate.
func ValidPlate(s string) bool {
	return plateRegex.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}
