package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geminicodes/MapMyVisitors-Cursor/database"
	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

const widgetIDAttempts = 3

type AccountStore struct {
	db *database.DBClient

	// newWidgetID is swapped in tests to force collisions.
	newWidgetID func() (string, error)
}

func NewAccountStore(db *database.DBClient) *AccountStore {
	return &AccountStore{db: db, newWidgetID: utils.GenerateWidgetID}
}

const accountColumns = `id, email, widget_id, paid, watermark_removed, created_at`

func (s *AccountStore) GetByWidgetID(ctx context.Context, widgetID string) (*models.Account, error) {
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE widget_id = ?`)

	acc := &models.Account{}
	err := s.db.DB.QueryRowContext(ctx, query, widgetID).Scan(
		&acc.ID,
		&acc.Email,
		&acc.WidgetID,
		&acc.Paid,
		&acc.WatermarkRemoved,
		&acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by widget id: %w", err)
	}
	return acc, nil
}

// Create inserts an unpaid account with a freshly generated widget id,
// retrying on widget id collisions.
func (s *AccountStore) Create(ctx context.Context, email string) (*models.Account, error) {
	acc := &models.Account{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	query := s.db.Rebind(`
		INSERT INTO accounts (id, email, widget_id, paid, watermark_removed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for attempt := 1; attempt <= widgetIDAttempts; attempt++ {
		widgetID, err := s.newWidgetID()
		if err != nil {
			return nil, err
		}

		_, err = s.db.DB.ExecContext(ctx, query, acc.ID, acc.Email, widgetID, false, false, acc.CreatedAt)
		if err == nil {
			acc.WidgetID = widgetID
			logging.Info().Str("account_id", acc.ID).Str("widget_id", widgetID).Msg("Account created")
			return acc, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		if strings.Contains(err.Error(), "email") {
			return nil, ErrEmailTaken
		}
		logging.Warn().Int("attempt", attempt).Msg("Widget id collision, regenerating")
	}
	return nil, fmt.Errorf("failed to allocate a unique widget id after %d attempts", widgetIDAttempts)
}

// SetFlags updates the flags that are non-nil and returns the updated account.
func (s *AccountStore) SetFlags(ctx context.Context, widgetID string, paid, watermarkRemoved *bool) (*models.Account, error) {
	query := s.db.Rebind(`
		UPDATE accounts
		SET paid = COALESCE(?, paid), watermark_removed = COALESCE(?, watermark_removed)
		WHERE widget_id = ?`)

	res, err := s.db.DB.ExecContext(ctx, query, nullBool(paid), nullBool(watermarkRemoved), widgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to update account flags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByWidgetID(ctx, widgetID)
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
