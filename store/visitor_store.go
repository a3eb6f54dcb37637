package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geminicodes/MapMyVisitors-Cursor/database"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
)

type VisitorStore struct {
	db *database.DBClient
}

func NewVisitorStore(db *database.DBClient) *VisitorStore {
	return &VisitorStore{db: db}
}

// Insert stores ev, assigning an id and creation time when unset.
func (s *VisitorStore) Insert(ctx context.Context, ev *models.VisitorEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC().Truncate(time.Microsecond)

	query := s.db.Rebind(`
		INSERT INTO visitors (
			id, account_id, country, country_code, city, latitude, longitude,
			page_url, referrer, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.DB.ExecContext(ctx, query,
		ev.ID,
		ev.AccountID,
		ev.Country,
		ev.CountryCode,
		nullString(ev.City),
		ev.Latitude,
		ev.Longitude,
		ev.PageURL,
		nullString(ev.Referrer),
		nullString(ev.UserAgent),
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visitor: %w", err)
	}
	return nil
}

// Recent returns up to limit events for the account, newest first.
func (s *VisitorStore) Recent(ctx context.Context, accountID string, limit int) ([]models.VisitorEvent, error) {
	query := s.db.Rebind(`
		SELECT id, account_id, country, country_code, city, latitude, longitude,
			page_url, referrer, user_agent, created_at
		FROM visitors
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	rows, err := s.db.DB.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent visitors: %w", err)
	}
	defer rows.Close()

	events := make([]models.VisitorEvent, 0, limit)
	for rows.Next() {
		var (
			ev                        models.VisitorEvent
			city, referrer, userAgent sql.NullString
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.AccountID,
			&ev.Country,
			&ev.CountryCode,
			&city,
			&ev.Latitude,
			&ev.Longitude,
			&ev.PageURL,
			&referrer,
			&userAgent,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan visitor row: %w", err)
		}
		ev.City = stringPtr(city)
		ev.Referrer = stringPtr(referrer)
		ev.UserAgent = stringPtr(userAgent)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating visitor rows: %w", err)
	}
	return events, nil
}

// CountSince counts events with created_at >= since.
func (s *VisitorStore) CountSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM visitors WHERE account_id = ? AND created_at >= ?`, accountID, since)
}

// CountAfter counts events with created_at > after.
func (s *VisitorStore) CountAfter(ctx context.Context, accountID string, after time.Time) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM visitors WHERE account_id = ? AND created_at > ?`, accountID, after)
}

func (s *VisitorStore) count(ctx context.Context, query, accountID string, t time.Time) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, s.db.Rebind(query), accountID, t.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count visitors: %w", err)
	}
	return n, nil
}

// MonthlyCount returns the pageview counter for month (YYYY-MM-01), zero when absent.
func (s *VisitorStore) MonthlyCount(ctx context.Context, accountID, month string) (int64, error) {
	query := s.db.Rebind(`SELECT pageview_count FROM monthly_pageviews WHERE account_id = ? AND month = ?`)

	var n int64
	err := s.db.DB.QueryRowContext(ctx, query, accountID, month).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read monthly pageviews: %w", err)
	}
	return n, nil
}

// ReserveMonthly takes one pageview slot for month in a single conditional
// upsert. ok is false, and nothing changes, once the counter has reached limit.
func (s *VisitorStore) ReserveMonthly(ctx context.Context, accountID, month string, limit int64) (count int64, ok bool, err error) {
	if limit <= 0 {
		return 0, false, nil
	}
	query := s.db.Rebind(`
		INSERT INTO monthly_pageviews (account_id, month, pageview_count)
		VALUES (?, ?, 1)
		ON CONFLICT (account_id, month)
		DO UPDATE SET pageview_count = monthly_pageviews.pageview_count + 1
		WHERE monthly_pageviews.pageview_count < ?
		RETURNING pageview_count`)

	err = s.db.DB.QueryRowContext(ctx, query, accountID, month, limit).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to reserve monthly pageview: %w", err)
	}
	return count, true, nil
}

// ReleaseMonthly gives back a slot taken by ReserveMonthly.
func (s *VisitorStore) ReleaseMonthly(ctx context.Context, accountID, month string) error {
	query := s.db.Rebind(`
		UPDATE monthly_pageviews
		SET pageview_count = pageview_count - 1
		WHERE account_id = ? AND month = ? AND pageview_count > 0`)

	if _, err := s.db.DB.ExecContext(ctx, query, accountID, month); err != nil {
		return fmt.Errorf("failed to release monthly pageview: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
