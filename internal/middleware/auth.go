package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/auth"
)

const (
	userIDContextKey    = "userID"
	namespaceContextKey = "namespace"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := value.(string)
	return userID, ok && userID != ""
}

func NamespaceFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(namespaceContextKey)
	if !ok {
		return "", false
	}
	namespace, ok := value.(string)
	return namespace, ok && namespace != ""
}

// bearerCredential extracts the credential from the Authorization header,
// or from the token query parameter for the documented streaming endpoints
// that cannot set headers.
func bearerCredential(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return c.Query("token")
}

// RequireAuth resolves the request credential to {userID, namespace} and
// stores both in the gin context. Bootstrap routes are mounted outside this
// middleware, never special-cased inside it.
func RequireAuth(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := bearerCredential(c)
		if credential == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		resolved, err := resolver.Resolve(credential)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(userIDContextKey, resolved.UserID)
		c.Set(namespaceContextKey, resolved.Namespace)
		c.Next()
	}
}
