package models

import (
	"encoding/json"
	"time"
)

// Broadcast event types. These tags are the stable contract with
// connected viewers and with other server instances on the shared topic.
const (
	EventBidAccepted     = "bid:accepted"
	EventBidUpdate       = "bid:update"
	EventBidOutbid       = "bid:outbid"
	EventBidNew          = "bid:new"
	EventAuctionStarted  = "auction:started"
	EventAuctionReset    = "auction:reset"
	EventAuctionEnded    = "auction:ended"
	EventAuctionAccepted = "auction:accepted"
	EventAuctionRejected = "auction:rejected"
	EventOfferCounter    = "offer:counter"
	EventOfferAccepted   = "offer:accepted"
	EventOfferRejected   = "offer:rejected"
	EventNotify          = "notify"
)

// BroadcastEvent is the envelope delivered to every connected viewer and
// published verbatim to the shared cross-process topic. Origin carries the
// instance ID of the process that produced the event so that consumers can
// skip re-broadcasting their own messages.
type BroadcastEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Origin    string          `json:"origin"`
	At        time.Time       `json:"at"`
}

// BidAcceptedPayload rides in a bid:accepted broadcast
type BidAcceptedPayload struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    string `json:"amount"`
}

// AuctionStatusPayload rides in auction lifecycle broadcasts
type AuctionStatusPayload struct {
	AuctionID    string    `json:"auction_id"`
	Status       string    `json:"status"`
	CurrentPrice string    `json:"current_price"`
	EndsAt       time.Time `json:"ends_at"`
}

// OfferPayload rides in counter-offer broadcasts
type OfferPayload struct {
	CounterID string `json:"counter_id"`
	AuctionID string `json:"auction_id"`
	BuyerID   string `json:"buyer_id"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
}
