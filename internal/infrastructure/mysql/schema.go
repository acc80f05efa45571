package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied one statement at a time; the driver rejects
// multi-statement strings unless the DSN opts in.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS auction_books (
		auction_id VARCHAR(64) PRIMARY KEY,
		version BIGINT NOT NULL,
		data JSON NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bid_index (
		bid_id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS autobid_index (
		auto_bid_id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bid_events (
		event_id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		payload JSON NOT NULL,
		occurred_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_bid_events_auction (auction_id, occurred_at)
	)`,
}

// InitSchema creates the tables owned by the bidding core.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
