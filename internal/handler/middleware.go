package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"aivest/internal/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const sessionContextKey = "session"

// SessionAuth resolves the bearer token (Authorization: Bearer <token>, or X-Session-Token)
// and stores the session on the gin context. With required=false a missing token passes
// through; an invalid one is still rejected.
func SessionAuth(svc AuthService, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
				return
			}
			c.Next()
			return
		}
		if svc == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is not configured"})
			return
		}
		sess, err := svc.Session(c.Request.Context(), token)
		if errors.Is(err, auth.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// SessionFrom returns the session attached by SessionAuth, if any.
func SessionFrom(c *gin.Context) (*auth.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*auth.Session)
	return sess, ok
}

func bearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Session-Token"))
}

// CORS allows any origin, matching the public API's browser clients.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Session-Token"},
		MaxAge:          12 * time.Hour,
	})
}
