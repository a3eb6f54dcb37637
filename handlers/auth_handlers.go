package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/middleware"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const adminSubject = "operator"

type AuthHandlers struct {
	KeyHash []byte
	Tokens  *utils.TokenIssuer
	Limiter RateLimiter
	// SecureCookie marks the session cookie Secure; off for local http.
	SecureCookie bool
}

func NewAuthHandlers(keyHash string, tokens *utils.TokenIssuer, limiter RateLimiter, secureCookie bool) *AuthHandlers {
	return &AuthHandlers{KeyHash: []byte(keyHash), Tokens: tokens, Limiter: limiter, SecureCookie: secureCookie}
}

// Login exchanges the operator key for a JWT, returned in the body and as a cookie.
// Attempts are limited per c.ClientIP, which only believes forwarding headers
// from the engine's trusted proxies.
func (h *AuthHandlers) Login(c *gin.Context) {
	log := logging.Ctx(c.Request.Context())
	ip := c.ClientIP()

	if !h.Limiter.Allow(ip) {
		respondError(c, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req models.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.KeyHash, []byte(req.Key)); err != nil {
		log.Warn().Str("client_ip", ip).Msg("Admin login failed")
		respondError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(adminSubject)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate admin JWT")
		respondError(c, http.StatusInternalServerError, "Failed to generate authentication token")
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AuthCookieName, tokenString, int(h.Tokens.TTL().Seconds()), "/api/admin", "", h.SecureCookie, true)

	log.Info().Str("client_ip", ip).Msg("Admin logged in")
	c.JSON(http.StatusOK, gin.H{"success": true, "token": tokenString, "expiresIn": int(h.Tokens.TTL().Seconds())})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(middleware.AuthCookieName, "", -1, "/api/admin", "", h.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}
