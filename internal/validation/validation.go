// Package validation provides input validation helpers and middleware for
// the triage API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (256KB). Triage requests
// are small; anything larger is hostile or broken.
const MaxRequestSize = 256 << 10

// MaxStringLength is the maximum length for free-text string fields.
const MaxStringLength = 2000

// idRegex validates prefixed identifiers (cust_x, txn_x, sess_x, card_x).
var idRegex = regexp.MustCompile(`^[a-z]+_[a-zA-Z0-9-]{1,64}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks a prefixed identifier like cust_1a2b or txn_demo.
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// SanitizeString trims whitespace, strips null bytes, and caps length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
