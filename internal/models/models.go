package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction represents one sellable listing with a bidding window
type Auction struct {
	ID            string          `db:"id" json:"id"`
	SellerID      string          `db:"seller_id" json:"seller_id"`
	Title         string          `db:"title" json:"title"`
	Description   string          `db:"description" json:"description,omitempty"`
	StartingPrice decimal.Decimal `db:"starting_price" json:"starting_price"`
	BidIncrement  decimal.Decimal `db:"bid_increment" json:"bid_increment"`
	CurrentPrice  decimal.Decimal `db:"current_price" json:"current_price"`
	Status        string          `db:"status" json:"status"`
	GoLiveAt      time.Time       `db:"go_live_at" json:"go_live_at"`
	EndsAt        time.Time       `db:"ends_at" json:"ends_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Bid is an immutable record of one accepted raise. It is only ever
// inserted alongside a successful conditional update of the auction's
// current price to the same amount.
type Bid struct {
	ID        string          `db:"id" json:"id"`
	AuctionID string          `db:"auction_id" json:"auction_id"`
	BidderID  string          `db:"bidder_id" json:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// CounterOffer is a seller-proposed price addressed to a specific buyer
// after the bidding window closed without a final decision.
type CounterOffer struct {
	ID        string          `db:"id" json:"id"`
	AuctionID string          `db:"auction_id" json:"auction_id"`
	SellerID  string          `db:"seller_id" json:"seller_id"`
	BuyerID   string          `db:"buyer_id" json:"buyer_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    string          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Notification is an at-least-once delivery record of a domain event to
// one user. Payload is the serialized event data.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Payload   []byte    `db:"payload" json:"payload"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Auction statuses
const (
	AuctionStatusScheduled = "scheduled"
	AuctionStatusLive      = "live"
	AuctionStatusEnded     = "ended"
	AuctionStatusClosed    = "closed"
)

// CounterOffer statuses
const (
	CounterStatusPending  = "pending"
	CounterStatusAccepted = "accepted"
	CounterStatusRejected = "rejected"
)

// Seller decision actions
const (
	DecisionAccept  = "accept"
	DecisionReject  = "reject"
	DecisionCounter = "counter"
)
