package mysql

import (
	"context"
	"database/sql"
	"errors"

	"bidding-core/internal/domain"
)

// MySQLAuctionRepository reads auctions owned by the auction service. The
// bidding core never writes them.
type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `
        SELECT id, seller_id, start_time, end_time, status, reserve_price, created_at, updated_at
        FROM auctions WHERE id = ?
    `

	var auction domain.Auction
	var status int

	err := r.db.QueryRowContext(ctx, query, auctionID).Scan(
		&auction.ID, &auction.SellerID, &auction.StartTime, &auction.EndTime,
		&status, &auction.ReservePrice, &auction.CreatedAt, &auction.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	return &auction, nil
}
