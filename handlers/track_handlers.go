package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/geminicodes/MapMyVisitors-Cursor/archive"
	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/metrics"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const DefaultMonthlyLimit = 10000

type TrackHandlers struct {
	Accounts     AccountReader
	Visitors     VisitorRepository
	Geo          GeoResolver
	Limiter      RateLimiter
	Archive      archive.Publisher
	MonthlyLimit int64
	Now          func() time.Time
}

func NewTrackHandlers(accounts AccountReader, visitors VisitorRepository, geo GeoResolver, limiter RateLimiter, pub archive.Publisher, monthlyLimit int64) *TrackHandlers {
	utils.RegisterValidators()
	if pub == nil {
		pub = archive.Noop{}
	}
	if monthlyLimit <= 0 {
		monthlyLimit = DefaultMonthlyLimit
	}
	return &TrackHandlers{
		Accounts:     accounts,
		Visitors:     visitors,
		Geo:          geo,
		Limiter:      limiter,
		Archive:      pub,
		MonthlyLimit: monthlyLimit,
		Now:          time.Now,
	}
}

// Track records one pageview for a paid widget.
func (h *TrackHandlers) Track(c *gin.Context) {
	log := logging.Ctx(c.Request.Context())
	ip := utils.ClientIP(c.Request)

	if !h.Limiter.Allow(ip) {
		h.reject(c, http.StatusTooManyRequests, "Too many requests", metrics.ReasonRateLimited)
		return
	}

	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reject(c, http.StatusBadRequest, bindErrorMessage(err), metrics.ReasonInvalid)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	account, err := h.Accounts.GetByWidgetID(ctx, req.WidgetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.reject(c, http.StatusNotFound, "Widget ID not found", metrics.ReasonNotFound)
			return
		}
		log.Error().Err(err).Str("widget_id", req.WidgetID).Msg("Track: account lookup failed")
		h.reject(c, http.StatusInternalServerError, "Database error", metrics.ReasonDBError)
		return
	}
	if !account.Paid {
		h.reject(c, http.StatusPaymentRequired, "Payment required", metrics.ReasonUnpaid)
		return
	}

	now := h.Now()
	month := utils.MonthStart(now)
	// The slot is taken before any slow work so concurrent requests cannot
	// all pass the same stale count.
	_, reserved, err := h.Visitors.ReserveMonthly(ctx, account.ID, month, h.MonthlyLimit)
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Track: monthly reservation failed")
		h.reject(c, http.StatusInternalServerError, "Database error", metrics.ReasonDBError)
		return
	}
	if !reserved {
		msg := fmt.Sprintf("Monthly limit reached (%s pageviews)", formatThousands(h.MonthlyLimit))
		h.reject(c, http.StatusTooManyRequests, msg, metrics.ReasonMonthlyLimit)
		return
	}

	loc := h.Geo.Resolve(ctx, ip)

	ev := &models.VisitorEvent{
		AccountID:   account.ID,
		Country:     loc.Country,
		CountryCode: loc.CountryCode,
		City:        loc.City,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		PageURL:     req.PageURL,
		Referrer:    optional(req.Referrer),
		UserAgent:   optional(c.GetHeader("User-Agent")),
		CreatedAt:   now,
	}
	if err := h.Visitors.Insert(ctx, ev); err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Track: insert visitor failed")
		h.release(c, account.ID, month)
		h.reject(c, http.StatusInternalServerError, "Failed to track visitor", metrics.ReasonDBError)
		return
	}

	metrics.VisitorsTrackedTotal.Inc()
	h.Archive.Publish(models.ArchivedVisit{VisitorEvent: *ev, WidgetID: account.WidgetID})

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Tracked"})
}

// release returns a reserved slot on its own context; the request context may
// already be past its deadline.
func (h *TrackHandlers) release(c *gin.Context, accountID, month string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), dbTimeout)
	defer cancel()
	if err := h.Visitors.ReleaseMonthly(ctx, accountID, month); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("account_id", accountID).Str("month", month).Msg("Track: monthly release failed")
	}
}

func (h *TrackHandlers) reject(c *gin.Context, status int, msg, reason string) {
	metrics.TrackRejectedTotal.WithLabelValues(reason).Inc()
	respondError(c, status, msg)
}

// bindErrorMessage maps binding failures to the public error text. Anything
// not attributable to pageUrl reads as a bad widget id.
func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.StructField() == "WidgetID" {
				return "Invalid widget ID"
			}
		}
		return "Invalid page URL"
	}
	// gin decodes request bodies with encoding/json.
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field == "pageUrl" {
		return "Invalid page URL"
	}
	return "Invalid widget ID"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatThousands(n int64) string {
	if n < 0 {
		return "-" + formatThousands(-n)
	}
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
