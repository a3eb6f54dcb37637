package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
)

type ClickHouseConfig struct {
	Host       string
	NativePort int
	DBName     string
	Username   string
	Password   string
}

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

// archiveSchema is applied on connect; the archive is append-only.
const archiveSchema = `
CREATE TABLE IF NOT EXISTS visitor_events (
	event_id UUID,
	account_id String,
	widget_id String,
	country String,
	country_code LowCardinality(String),
	city Nullable(String),
	latitude Float64,
	longitude Float64,
	page_url String,
	referrer Nullable(String),
	user_agent Nullable(String),
	timestamp DateTime64(3, 'UTC')
) ENGINE = MergeTree()
ORDER BY (widget_id, timestamp)`

func NewClickHouseDB(cfg ClickHouseConfig) (*ClickHouseClient, error) {
	if cfg.Host == "" || cfg.NativePort == 0 || cfg.DBName == "" {
		return nil, fmt.Errorf("CLICKHOUSE_HOST, CLICKHOUSE_NATIVE_PORT, or CLICKHOUSE_DB_NAME is not set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.NativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.DBName,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "mapmyvisitors", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, archiveSchema); err != nil {
		return nil, fmt.Errorf("failed to create visitor_events table: %w", err)
	}

	logging.Info().Str("host", cfg.Host).Str("database", cfg.DBName).Msg("Connected to ClickHouse archive")
	return &ClickHouseClient{Conn: conn}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ClickHouse connection")
			return
		}
		logging.Info().Msg("ClickHouse connection closed")
	}
}
