package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMW guards the navigation rule endpoints with a static bearer token
type AdminMW struct {
	token string
}

// NewAdminMW creates new admin middleware wrapper
func NewAdminMW(token string) *AdminMW {
	return &AdminMW{token: token}
}

// WithToken returns the admin token middleware function
func (mw *AdminMW) WithToken() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Check Bearer token format
		tokenParts := strings.SplitN(authHeader, " ", 2)
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		if mw.token == "" || subtle.ConstantTimeCompare([]byte(tokenParts[1]), []byte(mw.token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access Denied"})
			c.Abort()
			return
		}

		c.Next()
	})
}
