package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const archiveDisabledMsg = "Analytics archive not configured"

// AnalyticsHandlers serve per-widget statistics from the ClickHouse archive.
type AnalyticsHandlers struct {
	Analytics AnalyticsReader
	Now       func() time.Time
}

func NewAnalyticsHandlers(analytics AnalyticsReader) *AnalyticsHandlers {
	return &AnalyticsHandlers{Analytics: analytics, Now: time.Now}
}

func (h *AnalyticsHandlers) GetEventCounts(c *gin.Context) {
	widgetID, start, end, ok := h.commonParams(c)
	if !ok {
		return
	}

	interval := c.DefaultQuery("interval", "Day")
	if !utils.IsValidInterval(interval) {
		respondError(c, http.StatusBadRequest, "Invalid interval. Use Minute, Hour, Day, Week, Month, Quarter or Year")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	results, err := h.Analytics.EventCountsOverTime(ctx, widgetID, interval, start, end)
	if err != nil {
		h.archiveError(c, err, "Failed to retrieve event statistics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "interval": interval, "counts": results})
}

func (h *AnalyticsHandlers) GetTopPages(c *gin.Context) {
	widgetID, start, end, ok := h.commonParams(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	results, err := h.Analytics.TopPages(ctx, widgetID, start, end, parseTopN(c.Query("limit")))
	if err != nil {
		h.archiveError(c, err, "Failed to retrieve top pages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pages": results})
}

func (h *AnalyticsHandlers) GetTopCountries(c *gin.Context) {
	widgetID, start, end, ok := h.commonParams(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	results, err := h.Analytics.TopCountries(ctx, widgetID, start, end, parseTopN(c.Query("limit")))
	if err != nil {
		h.archiveError(c, err, "Failed to retrieve top countries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "countries": results})
}

// commonParams validates the widget id and the RFC3339 start/end window,
// defaulting to the last 7 days.
func (h *AnalyticsHandlers) commonParams(c *gin.Context) (widgetID string, start, end time.Time, ok bool) {
	if h.Analytics == nil {
		respondError(c, http.StatusServiceUnavailable, archiveDisabledMsg)
		return "", start, end, false
	}

	widgetID = c.Param("widgetId")
	if !utils.IsValidWidgetID(widgetID) {
		respondError(c, http.StatusBadRequest, "Invalid widget ID")
		return "", start, end, false
	}

	now := h.Now().UTC()
	end = now
	start = now.Add(-7 * 24 * time.Hour)

	var err error
	if p := c.Query("start"); p != "" {
		if start, err = time.Parse(time.RFC3339, p); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
			return "", start, end, false
		}
	}
	if p := c.Query("end"); p != "" {
		if end, err = time.Parse(time.RFC3339, p); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
			return "", start, end, false
		}
	}
	if end.Before(start) {
		respondError(c, http.StatusBadRequest, "'end' must not be before 'start'")
		return "", start, end, false
	}
	return widgetID, start, end, true
}

func (h *AnalyticsHandlers) archiveError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrArchiveDisabled) {
		respondError(c, http.StatusServiceUnavailable, archiveDisabledMsg)
		return
	}
	logging.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	respondError(c, http.StatusInternalServerError, msg)
}

func parseTopN(raw string) uint64 {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 10
	}
	if n > 100 {
		return 100
	}
	return n
}
