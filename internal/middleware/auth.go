package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/pkg/response"
)

const (
	// ContextClaims holds the validated *auth.Claims.
	ContextClaims = "claims"
	// tokenQueryParam carries the token on WebSocket upgrades, where browsers cannot set headers.
	tokenQueryParam = "token"
)

// Authenticate validates a bearer token when one is presented. With required
// set, requests without a valid token are rejected. Otherwise a missing or
// invalid token just leaves the request anonymous.
func Authenticate(jwtService *auth.JWTService, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if required {
				response.Unauthorized(c, "missing authorization header")
				return
			}
			c.Next()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			if required {
				response.Unauthorized(c, "invalid or expired token")
				return
			}
			c.Next()
			return
		}
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", true
		}
		return token, true
	}
	if token := c.Query(tokenQueryParam); token != "" {
		return token, true
	}
	return "", false
}

// Claims returns the validated claims, or nil for anonymous requests.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// UserID returns the caller's id, or uuid.Nil for anonymous requests.
func UserID(c *gin.Context) uuid.UUID {
	if claims := Claims(c); claims != nil {
		return claims.UserID
	}
	return uuid.Nil
}
