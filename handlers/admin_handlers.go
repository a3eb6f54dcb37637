package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

// AdminHandlers is the operator surface external billing and license flows
// write through.
type AdminHandlers struct {
	Accounts  AccountWriter
	Visitors  VisitorRepository
	PublicURL string
	Now       func() time.Time
}

func NewAdminHandlers(accounts AccountWriter, visitors VisitorRepository, publicURL string) *AdminHandlers {
	utils.RegisterValidators()
	return &AdminHandlers{
		Accounts:  accounts,
		Visitors:  visitors,
		PublicURL: strings.TrimRight(publicURL, "/"),
		Now:       time.Now,
	}
}

// EmbedSnippet is the script tag a site owner pastes into their pages.
func (h *AdminHandlers) EmbedSnippet(widgetID string) string {
	return fmt.Sprintf(`<script src="%s/widget/widget.js?id=%s" async></script>`, h.PublicURL, widgetID)
}

func (h *AdminHandlers) CreateAccount(c *gin.Context) {
	var req models.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	account, err := h.Accounts.Create(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			respondError(c, http.StatusConflict, "Account with this email already exists")
			return
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to create account")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"account":      account,
		"embedSnippet": h.EmbedSnippet(account.WidgetID),
	})
}

func (h *AdminHandlers) GetAccount(c *gin.Context) {
	widgetID := c.Param("widgetId")
	if !utils.IsValidWidgetID(widgetID) {
		respondError(c, http.StatusBadRequest, "Invalid widget ID")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	account, ok := h.lookup(ctx, c, widgetID)
	if !ok {
		return
	}

	month := utils.MonthStart(h.Now())
	pageviews, err := h.Visitors.MonthlyCount(ctx, account.ID, month)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("account_id", account.ID).Msg("Failed to read monthly pageviews")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"account":          account,
		"month":            month,
		"monthlyPageviews": pageviews,
		"embedSnippet":     h.EmbedSnippet(account.WidgetID),
	})
}

func (h *AdminHandlers) UpdateAccount(c *gin.Context) {
	widgetID := c.Param("widgetId")
	if !utils.IsValidWidgetID(widgetID) {
		respondError(c, http.StatusBadRequest, "Invalid widget ID")
		return
	}

	var req models.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Paid == nil && req.WatermarkRemoved == nil) {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	account, err := h.Accounts.SetFlags(ctx, widgetID, req.Paid, req.WatermarkRemoved)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Widget ID not found")
			return
		}
		logging.Ctx(ctx).Error().Err(err).Str("widget_id", widgetID).Msg("Failed to update account")
		respondError(c, http.StatusInternalServerError, "Database error")
		return
	}

	logging.Ctx(ctx).Info().
		Str("widget_id", widgetID).
		Bool("paid", account.Paid).
		Bool("watermark_removed", account.WatermarkRemoved).
		Msg("Account flags updated")
	c.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

func (h *AdminHandlers) lookup(ctx context.Context, c *gin.Context, widgetID string) (*models.Account, bool) {
	account, err := h.Accounts.GetByWidgetID(ctx, widgetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Widget ID not found")
			return nil, false
		}
		logging.Ctx(ctx).Error().Err(err).Str("widget_id", widgetID).Msg("Account lookup failed")
		respondError(c, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return account, true
}
