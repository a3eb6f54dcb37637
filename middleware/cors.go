package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS allows any origin for the public widget endpoints. methods is the
// Access-Control-Allow-Methods value for the route, e.g. "POST, OPTIONS".
// The headers are written on every response, including errors and preflights.
func CORS(methods string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
