package store

import (
	"context"
	"fmt"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DocumentStore is the AuctionStore implementation backed by a REST
// document API (PostgREST-compatible). Conditional updates are expressed
// as filtered PATCH requests; the number of returned rows decides whether
// the write matched, which gives the same atomicity as the relational
// backend's filtered UPDATE.
type DocumentStore struct {
	client *resty.Client
}

// NewDocumentStore returns a store speaking to the document API at baseURL
func NewDocumentStore(baseURL, token string) (*DocumentStore, error) {
	if baseURL == "" {
		return nil, aucterrors.ErrUnconfigured
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &DocumentStore{client: client}, nil
}

func (s *DocumentStore) checkStatus(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("document store returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CreateAuction inserts a new auction document
func (s *DocumentStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(a).
		Post("/auctions")
	if err != nil {
		return fmt.Errorf("failed to create auction document: %w", err)
	}
	return s.checkStatus(resp)
}

// GetAuction retrieves an auction document by ID
func (s *DocumentStore) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	var result []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetResult(&result).
		Get("/auctions")
	if err != nil {
		return nil, fmt.Errorf("failed to get auction document: %w", err)
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, aucterrors.ErrNotFound
	}
	return &result[0], nil
}

// ListOpenAuctions retrieves all auctions that are not closed
func (s *DocumentStore) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	var result []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("status", "neq."+models.AuctionStatusClosed).
		SetQueryParam("order", "ends_at.asc").
		SetResult(&result).
		Get("/auctions")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	return result, nil
}

// RaisePrice issues a filtered PATCH; the filter mirrors the relational
// backend's conditional UPDATE and the returned row count decides
// acceptance. The filter value cannot reference the document's own
// bid_increment column, so the increment is read first; it is immutable
// after creation, which keeps the read race-free.
func (s *DocumentStore) RaisePrice(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) (bool, error) {
	current, err := s.GetAuction(ctx, auctionID)
	if err == aucterrors.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ceiling := amount.Sub(current.BidIncrement)

	var updated []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+auctionID).
		SetQueryParam("status", "eq."+models.AuctionStatusLive).
		SetQueryParam("ends_at", "gt."+now.UTC().Format(time.RFC3339Nano)).
		SetQueryParam("current_price", "lte."+ceiling.String()).
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]interface{}{
			"current_price": amount,
			"updated_at":    now.UTC(),
		}).
		SetResult(&updated).
		Patch("/auctions")
	if err != nil {
		return false, fmt.Errorf("failed to raise price: %w", err)
	}
	if err := s.checkStatus(resp); err != nil {
		return false, err
	}
	return len(updated) > 0, nil
}

// InsertBid inserts an accepted bid document
func (s *DocumentStore) InsertBid(ctx context.Context, bid *models.Bid) error {
	bid.CreatedAt = time.Now().UTC()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(bid).
		Post("/bids")
	if err != nil {
		return fmt.Errorf("failed to insert bid document: %w", err)
	}
	return s.checkStatus(resp)
}

// ListBids retrieves all bids for an auction, most recent first
func (s *DocumentStore) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	var result []models.Bid
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("auction_id", "eq."+auctionID).
		SetQueryParam("order", "created_at.desc").
		SetResult(&result).
		Get("/bids")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	return result, nil
}

// TopBid retrieves the highest bid, ties broken by earliest creation
func (s *DocumentStore) TopBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	var result []models.Bid
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("auction_id", "eq."+auctionID).
		SetQueryParam("order", "amount.desc,created_at.asc").
		SetQueryParam("limit", "1").
		SetResult(&result).
		Get("/bids")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, aucterrors.ErrNoBids
	}
	return &result[0], nil
}

// UpdateSchedule rewrites status and the bidding window (start/reset)
func (s *DocumentStore) UpdateSchedule(ctx context.Context, auctionID string, upd ScheduleUpdate) error {
	body := map[string]interface{}{
		"status":     upd.Status,
		"go_live_at": upd.GoLiveAt.UTC(),
		"ends_at":    upd.EndsAt.UTC(),
		"updated_at": time.Now().UTC(),
	}
	if upd.ResetPrice {
		// A single PATCH cannot reference another column, so the reset
		// price is read first; the filter on status still prevents a
		// closed auction from being rewritten.
		a, err := s.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		body["current_price"] = a.StartingPrice
	}

	var updated []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+auctionID).
		SetQueryParam("status", "neq."+models.AuctionStatusClosed).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		SetResult(&updated).
		Patch("/auctions")
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if err := s.checkStatus(resp); err != nil {
		return err
	}
	if len(updated) == 0 {
		return aucterrors.ErrConflict
	}
	return nil
}

func (s *DocumentStore) transitionStatus(ctx context.Context, auctionID, from, to string) (bool, error) {
	var updated []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+auctionID).
		SetQueryParam("status", "eq."+from).
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		}).
		SetResult(&updated).
		Patch("/auctions")
	if err != nil {
		return false, err
	}
	if err := s.checkStatus(resp); err != nil {
		return false, err
	}
	return len(updated) > 0, nil
}

// MarkEnded transitions a live auction to ended; idempotent under races
func (s *DocumentStore) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	return s.transitionStatus(ctx, auctionID, models.AuctionStatusLive, models.AuctionStatusEnded)
}

// CloseAuction transitions an ended auction to closed exactly once
func (s *DocumentStore) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	return s.transitionStatus(ctx, auctionID, models.AuctionStatusEnded, models.AuctionStatusClosed)
}

// ExpiredLive retrieves live auctions whose window has passed
func (s *DocumentStore) ExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var result []models.Auction
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("status", "eq."+models.AuctionStatusLive).
		SetQueryParam("ends_at", "lte."+now.UTC().Format(time.RFC3339Nano)).
		SetResult(&result).
		Get("/auctions")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateCounterOffer inserts a pending counter-offer document
func (s *DocumentStore) CreateCounterOffer(ctx context.Context, c *models.CounterOffer) error {
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(c).
		Post("/counter_offers")
	if err != nil {
		return fmt.Errorf("failed to create counter-offer document: %w", err)
	}
	return s.checkStatus(resp)
}

// GetCounterOffer retrieves a counter-offer document by ID
func (s *DocumentStore) GetCounterOffer(ctx context.Context, id string) (*models.CounterOffer, error) {
	var result []models.CounterOffer
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetResult(&result).
		Get("/counter_offers")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, aucterrors.ErrNotFound
	}
	return &result[0], nil
}

// ResolveCounterOffer resolves a pending counter-offer exactly once
func (s *DocumentStore) ResolveCounterOffer(ctx context.Context, id string, accept bool) (bool, error) {
	status := models.CounterStatusRejected
	if accept {
		status = models.CounterStatusAccepted
	}

	var updated []models.CounterOffer
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("status", "eq."+models.CounterStatusPending).
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).
		SetResult(&updated).
		Patch("/counter_offers")
	if err != nil {
		return false, err
	}
	if err := s.checkStatus(resp); err != nil {
		return false, err
	}
	return len(updated) > 0, nil
}

// SetCurrentPrice overrides the current price (accepted counter-offer)
func (s *DocumentStore) SetCurrentPrice(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+auctionID).
		SetBody(map[string]interface{}{
			"current_price": amount,
			"updated_at":    time.Now().UTC(),
		}).
		Patch("/auctions")
	if err != nil {
		return err
	}
	return s.checkStatus(resp)
}

// InsertNotification persists one fan-out record
func (s *DocumentStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	n.CreatedAt = time.Now().UTC()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(n).
		Post("/notifications")
	if err != nil {
		return fmt.Errorf("failed to insert notification document: %w", err)
	}
	return s.checkStatus(resp)
}

// ListNotifications retrieves notifications for a user, most recent first
func (s *DocumentStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var result []models.Notification
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("order", "created_at.desc").
		SetResult(&result).
		Get("/notifications")
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}
	return result, nil
}
