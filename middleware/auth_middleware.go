package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const (
	AuthCookieName = "jwt_token"
	ContextSubject = "admin_subject"
)

// AuthRequired accepts the operator JWT from the jwt_token cookie or an
// Authorization: Bearer header.
func AuthRequired(tokens *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie(AuthCookieName)
		if err != nil || tokenString == "" {
			tokenString = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized: No token provided"})
			return
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("AuthRequired: invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}
