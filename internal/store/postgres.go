package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is the relational AuctionStore implementation. Atomicity of
// bid commits comes from a single filtered UPDATE on the auction row.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres and returns the store
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateAuction inserts a new auction row
func (s *PostgresStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	query := `
		INSERT INTO auctions (id, seller_id, title, description, starting_price, bid_increment, current_price, status, go_live_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		a.ID, a.SellerID, a.Title, a.Description, a.StartingPrice, a.BidIncrement,
		a.CurrentPrice, a.Status, a.GoLiveAt, a.EndsAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// GetAuction retrieves an auction by ID
func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	var a models.Auction
	err := s.db.GetContext(ctx, &a, "SELECT * FROM auctions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, aucterrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListOpenAuctions retrieves all auctions that are not closed
func (s *PostgresStore) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	var auctions []models.Auction
	err := s.db.SelectContext(ctx, &auctions,
		"SELECT * FROM auctions WHERE status != $1 ORDER BY ends_at", models.AuctionStatusClosed)
	return auctions, err
}

// RaisePrice performs the conditional price update that decides bid
// acceptance. Zero rows affected means the bid lost: the auction is gone,
// no longer live, out of its window, or the amount does not clear the
// minimum increment over the then-current price.
func (s *PostgresStore) RaisePrice(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET current_price = $2, updated_at = NOW()
		WHERE id = $1
		  AND status = $3
		  AND ends_at > $4
		  AND current_price <= $2 - bid_increment`,
		auctionID, amount, models.AuctionStatusLive, now)
	if err != nil {
		return false, fmt.Errorf("failed to raise price: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// InsertBid inserts an accepted bid record
func (s *PostgresStore) InsertBid(ctx context.Context, bid *models.Bid) error {
	query := `
		INSERT INTO bids (id, auction_id, bidder_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return s.db.QueryRowxContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount,
	).Scan(&bid.CreatedAt)
}

// ListBids retrieves all bids for an auction, most recent first
func (s *PostgresStore) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var bids []models.Bid
	err := s.db.SelectContext(ctx, &bids,
		"SELECT * FROM bids WHERE auction_id = $1 ORDER BY created_at DESC", auctionID)
	return bids, err
}

// TopBid retrieves the highest bid, ties broken by earliest creation
func (s *PostgresStore) TopBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	var bid models.Bid
	err := s.db.GetContext(ctx, &bid,
		"SELECT * FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC LIMIT 1", auctionID)
	if err == sql.ErrNoRows {
		return nil, aucterrors.ErrNoBids
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// UpdateSchedule rewrites status and the bidding window (start/reset)
func (s *PostgresStore) UpdateSchedule(ctx context.Context, auctionID string, upd ScheduleUpdate) error {
	var res sql.Result
	var err error
	if upd.ResetPrice {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auctions
			SET status = $2, go_live_at = $3, ends_at = $4, current_price = starting_price, updated_at = NOW()
			WHERE id = $1 AND status != $5`,
			auctionID, upd.Status, upd.GoLiveAt, upd.EndsAt, models.AuctionStatusClosed)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auctions
			SET status = $2, go_live_at = $3, ends_at = $4, updated_at = NOW()
			WHERE id = $1 AND status != $5`,
			auctionID, upd.Status, upd.GoLiveAt, upd.EndsAt, models.AuctionStatusClosed)
	}
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return aucterrors.ErrConflict
	}
	return nil
}

// MarkEnded transitions a live auction to ended; idempotent under races
func (s *PostgresStore) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE auctions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3",
		auctionID, models.AuctionStatusEnded, models.AuctionStatusLive)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CloseAuction transitions an ended auction to closed exactly once
func (s *PostgresStore) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE auctions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3",
		auctionID, models.AuctionStatusClosed, models.AuctionStatusEnded)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ExpiredLive retrieves live auctions whose window has passed
func (s *PostgresStore) ExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var auctions []models.Auction
	err := s.db.SelectContext(ctx, &auctions,
		"SELECT * FROM auctions WHERE status = $1 AND ends_at <= $2", models.AuctionStatusLive, now)
	return auctions, err
}

// CreateCounterOffer inserts a pending counter-offer
func (s *PostgresStore) CreateCounterOffer(ctx context.Context, c *models.CounterOffer) error {
	query := `
		INSERT INTO counter_offers (id, auction_id, seller_id, buyer_id, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		c.ID, c.AuctionID, c.SellerID, c.BuyerID, c.Amount, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetCounterOffer retrieves a counter-offer by ID
func (s *PostgresStore) GetCounterOffer(ctx context.Context, id string) (*models.CounterOffer, error) {
	var c models.CounterOffer
	err := s.db.GetContext(ctx, &c, "SELECT * FROM counter_offers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, aucterrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveCounterOffer resolves a pending counter-offer exactly once
func (s *PostgresStore) ResolveCounterOffer(ctx context.Context, id string, accept bool) (bool, error) {
	status := models.CounterStatusRejected
	if accept {
		status = models.CounterStatusAccepted
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE counter_offers SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3",
		id, status, models.CounterStatusPending)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetCurrentPrice overrides the current price (accepted counter-offer)
func (s *PostgresStore) SetCurrentPrice(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE auctions SET current_price = $2, updated_at = NOW() WHERE id = $1",
		auctionID, amount)
	return err
}

// InsertNotification persists one fan-out record
func (s *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, payload, read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.QueryRowxContext(ctx, query,
		n.ID, n.UserID, n.Type, n.Payload, n.Read,
	).Scan(&n.CreatedAt)
}

// ListNotifications retrieves notifications for a user, most recent first
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var ns []models.Notification
	err := s.db.SelectContext(ctx, &ns,
		"SELECT * FROM notifications WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return ns, err
}
