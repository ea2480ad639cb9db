package middleware

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
)

const internalTokenHeader = "X-Internal-Token"

// InternalTokenAuth guards ops endpoints. Loopback callers (the container
// healthcheck) pass without a token when allowLoopback is set. An empty
// configured token rejects every remote caller.
func InternalTokenAuth(token string, allowLoopback bool) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))

	return func(c *gin.Context) {
		if allowLoopback && isLoopback(c.ClientIP()) {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(internalTokenHeader))
		if provided == "" {
			provided = bearerToken(c.GetHeader("Authorization"))
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			response.Abort(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	auth := strings.TrimSpace(header)
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func isLoopback(clientIP string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(clientIP))
	return err == nil && addr.IsLoopback()
}
