package store

import (
	"context"
	"time"

	"auction-service/internal/models"

	"github.com/shopspring/decimal"
)

// ScheduleUpdate carries the fields rewritten by start/reset actions.
// ResetPrice additionally snaps current_price back to starting_price.
type ScheduleUpdate struct {
	Status     string
	GoLiveAt   time.Time
	EndsAt     time.Time
	ResetPrice bool
}

// AuctionStore is the narrow persistence contract the engine runs against.
// One implementation exists per backend (Postgres, document-over-HTTP,
// Redis); the backend is selected once at startup, never at call sites.
//
// Every implementation must make RaisePrice atomic against concurrent
// bidders and the expiry sweep: the update succeeds only if, at the moment
// of the write, the auction is live, its window is open, and the amount
// clears the minimum increment. MarkEnded and CloseAuction are likewise
// conditional so that racing actors observe a no-op instead of a double
// transition.
type AuctionStore interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
	ListOpenAuctions(ctx context.Context) ([]models.Auction, error)

	// RaisePrice conditionally sets current_price = amount, using the
	// auction's own bid_increment as the minimum step. It returns false
	// with a nil error when the conditional write matched no rows.
	RaisePrice(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) (bool, error)
	InsertBid(ctx context.Context, bid *models.Bid) error
	ListBids(ctx context.Context, auctionID string) ([]models.Bid, error)
	// TopBid returns the highest bid, ties broken by earliest creation.
	// Returns aucterrors.ErrNoBids when the auction has no bids.
	TopBid(ctx context.Context, auctionID string) (*models.Bid, error)

	UpdateSchedule(ctx context.Context, auctionID string, upd ScheduleUpdate) error
	// MarkEnded transitions live -> ended. False means the auction was not
	// live (already ended or closed); callers treat that as a benign race.
	MarkEnded(ctx context.Context, auctionID string) (bool, error)
	// CloseAuction transitions ended -> closed exactly once.
	CloseAuction(ctx context.Context, auctionID string) (bool, error)
	// ExpiredLive returns live auctions whose window has passed, for the sweep.
	ExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error)

	CreateCounterOffer(ctx context.Context, c *models.CounterOffer) error
	GetCounterOffer(ctx context.Context, id string) (*models.CounterOffer, error)
	// ResolveCounterOffer transitions pending -> accepted/rejected exactly
	// once; false means the offer was already resolved.
	ResolveCounterOffer(ctx context.Context, id string, accept bool) (bool, error)
	// SetCurrentPrice overrides the price unconditionally; used only when a
	// counter-offer is accepted after bidding has closed.
	SetCurrentPrice(ctx context.Context, auctionID string, amount decimal.Decimal) error

	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
}
