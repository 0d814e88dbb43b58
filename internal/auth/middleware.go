package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const stationKey = "station"

// StationAuth requires a valid bearer access token and stores the station id
// on the gin context.
func StationAuth(iss *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := iss.Parse(strings.TrimSpace(authz[len("bearer "):]), KindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(stationKey, claims.Subject)
		c.Next()
	}
}

// Station returns the authenticated station id, or "" outside StationAuth.
func Station(c *gin.Context) string {
	return c.GetString(stationKey)
}
