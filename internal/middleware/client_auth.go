package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/devicegate/internal/service"
)

// ClientAuthMiddleware authenticates SDK requests. The SDK sends the client
// id in X-Client-Id and repeats it with the secret as HTTP Basic auth; both
// must agree.
func ClientAuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Client-Id")
		if clientID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Client-Id header required"})
			return
		}

		basicID, secret, ok := c.Request.BasicAuth()
		if !ok || basicID != clientID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Basic auth credentials required"})
			return
		}

		app, err := authService.Authenticate(c.Request.Context(), clientID, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid client credentials"})
			return
		}

		// Store the authenticated app for downstream handlers
		c.Set("client_app", app)

		c.Next()
	}
}
