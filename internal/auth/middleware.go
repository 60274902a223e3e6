// Package auth guards internal routes with shared secrets.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Headers carrying the shared secrets.
const (
	HeaderIngestSecret = "X-Ingest-Secret"
	HeaderAdminSecret  = "X-Admin-Secret"
)

// RequireSecret rejects requests whose header does not carry secret.
// Missing header is 401, a wrong value is 403. An empty secret disables the
// check (demo mode).
func RequireSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(header)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing " + header + " header.",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid " + header + " header.",
			})
			return
		}
		c.Next()
	}
}

// RequireIngest guards the event ingestion route.
func RequireIngest(secret string) gin.HandlerFunc {
	return RequireSecret(HeaderIngestSecret, secret)
}

// RequireAdmin guards admin routes.
func RequireAdmin(secret string) gin.HandlerFunc {
	return RequireSecret(HeaderAdminSecret, secret)
}
