package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bidding-core/internal/domain"

	mysqldriver "github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

// MySQLBidLedger keeps one row per auction book. The version column is the
// compare-and-swap guard; the index tables answer bid id lookups.
type MySQLBidLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLBidLedger(db *sql.DB) *MySQLBidLedger {
	return &MySQLBidLedger{db: db, now: time.Now}
}

func (r *MySQLBidLedger) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionBook, error) {
	var (
		version int64
		data    []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, data FROM auction_books WHERE auction_id = ?`, auctionID).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewAuctionBook(auctionID), nil
	}
	if err != nil {
		return nil, err
	}

	var book domain.AuctionBook
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", auctionID, err)
	}
	book.Version = version
	return &book, nil
}

func (r *MySQLBidLedger) CommitAuction(ctx context.Context, change domain.BookChange) error {
	book := change.Book
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book %s: %w", book.AuctionID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := r.now()
	if change.ExpectedVersion == 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO auction_books (auction_id, version, data, updated_at) VALUES (?, ?, ?, ?)`,
			book.AuctionID, book.Version, data, now)
		if isDuplicate(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE auction_books SET version = ?, data = ?, updated_at = ? WHERE auction_id = ? AND version = ?`,
			book.Version, data, now, book.AuctionID, change.ExpectedVersion)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrVersionConflict
		}
	}

	for _, id := range change.NewBidIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bid_index (bid_id, auction_id) VALUES (?, ?)`, id, book.AuctionID); err != nil {
			return fmt.Errorf("index bid %s: %w", id, err)
		}
	}
	for _, id := range change.NewAutoBidIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO autobid_index (auto_bid_id, auction_id) VALUES (?, ?)`, id, book.AuctionID); err != nil {
			return fmt.Errorf("index auto-bid %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (r *MySQLBidLedger) FindBidAuction(ctx context.Context, bidID string) (string, error) {
	return r.lookup(ctx, `SELECT auction_id FROM bid_index WHERE bid_id = ?`, bidID, domain.ErrBidNotFound)
}

func (r *MySQLBidLedger) FindAutoBidAuction(ctx context.Context, autoBidID string) (string, error) {
	return r.lookup(ctx, `SELECT auction_id FROM autobid_index WHERE auto_bid_id = ?`, autoBidID, domain.ErrAutoBidNotFound)
}

func (r *MySQLBidLedger) lookup(ctx context.Context, query, id string, notFound error) (string, error) {
	var auctionID string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound
	}
	return auctionID, err
}

func isDuplicate(err error) bool {
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
