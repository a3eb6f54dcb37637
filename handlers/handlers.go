package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/models"
)

const dbTimeout = 10 * time.Second

type AccountReader interface {
	GetByWidgetID(ctx context.Context, widgetID string) (*models.Account, error)
}

type AccountWriter interface {
	AccountReader
	Create(ctx context.Context, email string) (*models.Account, error)
	SetFlags(ctx context.Context, widgetID string, paid, watermarkRemoved *bool) (*models.Account, error)
}

type VisitorRepository interface {
	Insert(ctx context.Context, ev *models.VisitorEvent) error
	Recent(ctx context.Context, accountID string, limit int) ([]models.VisitorEvent, error)
	CountSince(ctx context.Context, accountID string, since time.Time) (int64, error)
	CountAfter(ctx context.Context, accountID string, after time.Time) (int64, error)
	MonthlyCount(ctx context.Context, accountID, month string) (int64, error)
	ReserveMonthly(ctx context.Context, accountID, month string, limit int64) (int64, bool, error)
	ReleaseMonthly(ctx context.Context, accountID, month string) error
}

type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.Location
}

type RateLimiter interface {
	Allow(key string) bool
}

type AnalyticsReader interface {
	EventCountsOverTime(ctx context.Context, widgetID, interval string, start, end time.Time) ([]models.CountByTime, error)
	TopPages(ctx context.Context, widgetID string, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	TopCountries(ctx context.Context, widgetID string, start, end time.Time, limit uint64) ([]models.TopCountryResult, error)
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
