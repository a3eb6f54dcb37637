package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const (
	defaultVisitorLimit = 50
	maxVisitorLimit     = 100
	recentWindow        = 5 * time.Minute
)

type VisitorHandlers struct {
	Accounts AccountReader
	Visitors VisitorRepository
	Limiter  RateLimiter
	// Location decides where "today" starts.
	Location *time.Location
	Now      func() time.Time
}

func NewVisitorHandlers(accounts AccountReader, visitors VisitorRepository, limiter RateLimiter, loc *time.Location) *VisitorHandlers {
	if loc == nil {
		loc = time.UTC
	}
	return &VisitorHandlers{
		Accounts: accounts,
		Visitors: visitors,
		Limiter:  limiter,
		Location: loc,
		Now:      time.Now,
	}
}

// CacheHeaders sets the short public cache on every visitors response.
func CacheHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=10")
		c.Next()
	}
}

// GetVisitors returns the newest visitor points and aggregate counts for a paid widget.
func (h *VisitorHandlers) GetVisitors(c *gin.Context) {
	log := logging.Ctx(c.Request.Context())
	widgetID := c.Param("widgetId")

	if !h.Limiter.Allow(widgetID) {
		respondError(c, http.StatusTooManyRequests, "Too many requests")
		return
	}
	if !utils.IsValidWidgetID(widgetID) {
		respondError(c, http.StatusBadRequest, "Invalid widget ID")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	account, err := h.Accounts.GetByWidgetID(ctx, widgetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Widget ID not found")
			return
		}
		log.Error().Err(err).Str("widget_id", widgetID).Msg("Visitors: account lookup failed")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}
	if !account.Paid {
		respondError(c, http.StatusPaymentRequired, "Payment required")
		return
	}

	limit := parseLimit(c.Query("limit"))
	now := h.Now()

	events, err := h.Visitors.Recent(ctx, account.ID, limit)
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Visitors: fetch failed")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	totalToday, err := h.Visitors.CountSince(ctx, account.ID, utils.StartOfDay(now, h.Location))
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Visitors: today count failed")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	recentSince := now.Add(-recentWindow)
	activeNow, err := h.Visitors.CountAfter(ctx, account.ID, recentSince)
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Visitors: active count failed")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	points := make([]models.VisitorPoint, 0, len(events))
	for _, ev := range events {
		if !isFinite(ev.Latitude) || !isFinite(ev.Longitude) {
			continue
		}
		points = append(points, models.VisitorPoint{
			ID:        ev.ID,
			Lat:       ev.Latitude,
			Lng:       ev.Longitude,
			City:      ev.City,
			Country:   ev.Country,
			Timestamp: ev.CreatedAt.UTC().Format(time.RFC3339),
			IsRecent:  ev.CreatedAt.After(recentSince),
		})
	}

	c.JSON(http.StatusOK, models.VisitorsResponse{
		Success:       true,
		Paid:          true,
		ShowWatermark: account.ShowWatermark(),
		Visitors:      points,
		TotalToday:    totalToday,
		ActiveNow:     activeNow,
	})
}

// parseLimit clamps to [1,100]; missing or unparsable values mean 50.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVisitorLimit
	}
	if n < 1 {
		return 1
	}
	if n > maxVisitorLimit {
		return maxVisitorLimit
	}
	return n
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
