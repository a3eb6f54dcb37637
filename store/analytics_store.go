package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geminicodes/MapMyVisitors-Cursor/database"
	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

// ErrArchiveDisabled is returned by AnalyticsStore methods when no ClickHouse
// connection is configured.
var ErrArchiveDisabled = errors.New("analytics archive not configured")

type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

func (s *AnalyticsStore) enabled() bool {
	return s != nil && s.DB != nil && s.DB.Conn != nil
}

// InsertVisitorEvents sends events as one batch and returns how many rows it
// carried. Rows the driver refuses to append are logged and left out.
func (s *AnalyticsStore) InsertVisitorEvents(ctx context.Context, events []models.ArchivedVisit) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if !s.enabled() {
		return 0, ErrArchiveDisabled
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO visitor_events (
			event_id, account_id, widget_id, country, country_code, city,
			latitude, longitude, page_url, referrer, user_agent, timestamp
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	appended := 0
	for _, ev := range events {
		err := batch.Append(
			ev.ID,
			ev.AccountID,
			ev.WidgetID,
			ev.Country,
			ev.CountryCode,
			ev.City,
			ev.Latitude,
			ev.Longitude,
			ev.PageURL,
			ev.Referrer,
			ev.UserAgent,
			ev.CreatedAt,
		)
		if err != nil {
			logging.Error().Err(err).Str("event_id", ev.ID).Msg("Error appending visitor event to batch")
			continue
		}
		appended++
	}
	if appended == 0 {
		_ = batch.Abort()
		return 0, nil
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	logging.Debug().Int("count", appended).Int("skipped", len(events)-appended).Msg("Archived visitor events")
	return appended, nil
}

// EventCountsOverTime buckets a widget's archived events by interval
// (Minute, Hour, Day, Week, Month, Quarter, Year).
func (s *AnalyticsStore) EventCountsOverTime(ctx context.Context, widgetID, interval string, start, end time.Time) ([]models.CountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	if !s.enabled() {
		return nil, ErrArchiveDisabled
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, count() AS total
		FROM visitor_events
		WHERE widget_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, widgetID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	results := []models.CountByTime{}
	for rows.Next() {
		var r models.CountByTime
		if err := rows.Scan(&r.Time, &r.Count); err != nil {
			logging.Error().Err(err).Msg("Error scanning row for event counts over time")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) TopPages(ctx context.Context, widgetID string, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if !s.enabled() {
		return nil, ErrArchiveDisabled
	}
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT path(page_url) AS page_path, count() AS view_count
		FROM visitor_events
		WHERE widget_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`, widgetID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	results := []models.TopPathResult{}
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.Count); err != nil {
			logging.Error().Err(err).Msg("Error scanning row for top pages")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) TopCountries(ctx context.Context, widgetID string, start, end time.Time, limit uint64) ([]models.TopCountryResult, error) {
	if !s.enabled() {
		return nil, ErrArchiveDisabled
	}
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT any(country) AS country_name, country_code, count() AS visits
		FROM visitor_events
		WHERE widget_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY country_code
		ORDER BY visits DESC
		LIMIT ?
	`, widgetID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top countries: %w", err)
	}
	defer rows.Close()

	results := []models.TopCountryResult{}
	for rows.Next() {
		var r models.TopCountryResult
		if err := rows.Scan(&r.Country, &r.CountryCode, &r.Count); err != nil {
			logging.Error().Err(err).Msg("Error scanning row for top countries")
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top countries: %w", err)
	}
	return results, nil
}
