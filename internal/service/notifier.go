package service

import (
	"context"
	"encoding/json"

	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fanoutCap bounds the number of bid:update recipients on a single bid
const fanoutCap = 100

// Recipient is one (user, event) pair produced by fan-out, before any
// delivery concern.
type Recipient struct {
	UserID  string
	Type    string
	Payload interface{}
}

// Mailer is the best-effort email/SMS side channel. Implementations must
// never be load-bearing; the default does nothing.
type Mailer interface {
	Send(ctx context.Context, userID, eventType string, payload interface{}) error
}

// NoopMailer discards everything
type NoopMailer struct{}

// Send implements Mailer
func (NoopMailer) Send(ctx context.Context, userID, eventType string, payload interface{}) error {
	return nil
}

// BuildBidFanout computes the recipients of an accepted bid: an outbid
// notice to the previously-top bidder, a new-bid notice to the seller,
// and a capped bid:update to every other prior bidder. prior holds the
// auction's bids excluding the accepted one.
func BuildBidFanout(a *models.Auction, prior []models.Bid, accepted *models.Bid) []Recipient {
	payload := map[string]string{
		"auction_id": a.ID,
		"amount":     accepted.Amount.String(),
		"bidder_id":  accepted.BidderID,
	}

	var recipients []Recipient

	var prevTop *models.Bid
	for i := range prior {
		b := &prior[i]
		if b.BidderID == accepted.BidderID {
			continue
		}
		if prevTop == nil ||
			b.Amount.GreaterThan(prevTop.Amount) ||
			(b.Amount.Equal(prevTop.Amount) && b.CreatedAt.Before(prevTop.CreatedAt)) {
			prevTop = b
		}
	}
	if prevTop != nil {
		recipients = append(recipients, Recipient{UserID: prevTop.BidderID, Type: models.EventBidOutbid, Payload: payload})
	}

	recipients = append(recipients, Recipient{UserID: a.SellerID, Type: models.EventBidNew, Payload: payload})

	seen := map[string]bool{accepted.BidderID: true, a.SellerID: true}
	if prevTop != nil {
		seen[prevTop.BidderID] = true
	}
	for i := range prior {
		if len(recipients) >= fanoutCap {
			break
		}
		b := &prior[i]
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		recipients = append(recipients, Recipient{UserID: b.BidderID, Type: models.EventBidUpdate, Payload: payload})
	}

	return recipients
}

// BuildEndedFanout computes the recipients of an auction:ended event: the
// seller and every distinct bidder.
func BuildEndedFanout(a *models.Auction, bids []models.Bid) []Recipient {
	payload := map[string]string{
		"auction_id":    a.ID,
		"current_price": a.CurrentPrice.String(),
	}

	recipients := []Recipient{{UserID: a.SellerID, Type: models.EventAuctionEnded, Payload: payload}}

	seen := map[string]bool{a.SellerID: true}
	for i := range bids {
		if len(recipients) >= fanoutCap {
			break
		}
		b := &bids[i]
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		recipients = append(recipients, Recipient{UserID: b.BidderID, Type: models.EventAuctionEnded, Payload: payload})
	}

	return recipients
}

// BuildDecisionFanout computes the recipients of a seller decision
func BuildDecisionFanout(a *models.Auction, top *models.Bid, eventType string) []Recipient {
	payload := map[string]string{
		"auction_id": a.ID,
		"amount":     top.Amount.String(),
	}
	return []Recipient{{UserID: top.BidderID, Type: eventType, Payload: payload}}
}

// BuildOfferFanout computes the recipient of a counter-offer event
func BuildOfferFanout(c *models.CounterOffer, eventType, recipientID string) []Recipient {
	payload := map[string]string{
		"counter_id": c.ID,
		"auction_id": c.AuctionID,
		"amount":     c.Amount.String(),
	}
	return []Recipient{{UserID: recipientID, Type: eventType, Payload: payload}}
}

// Notifier turns fan-out recipients into persisted Notification records,
// addressed live notify events, and best-effort mail. Delivery is
// at-least-once with no dedup key; every failure is swallowed because the
// state change that produced the event has already committed.
type Notifier struct {
	store       store.AuctionStore
	broadcaster *broker.Broadcaster
	mailer      Mailer
	logger      *zap.Logger
}

// NewNotifier creates a notifier; mailer may be nil
func NewNotifier(st store.AuctionStore, broadcaster *broker.Broadcaster, mailer Mailer) *Notifier {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	return &Notifier{
		store:       st,
		broadcaster: broadcaster,
		mailer:      mailer,
		logger:      util.GetLogger(),
	}
}

// Deliver fans recipients out to storage, live sessions, and mail
func (n *Notifier) Deliver(ctx context.Context, recipients []Recipient) {
	for _, r := range recipients {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			n.logger.Error("Failed to marshal notification payload", zap.String("type", r.Type), zap.Error(err))
			continue
		}

		notification := &models.Notification{
			ID:      uuid.New().String(),
			UserID:  r.UserID,
			Type:    r.Type,
			Payload: raw,
		}
		if err := n.store.InsertNotification(ctx, notification); err != nil {
			n.logger.Warn("Failed to persist notification",
				zap.String("user_id", r.UserID),
				zap.String("type", r.Type),
				zap.Error(err))
		}

		n.broadcaster.Notify(ctx, r.UserID, r.Type, r.Payload)

		if err := n.mailer.Send(ctx, r.UserID, r.Type, r.Payload); err != nil {
			n.logger.Warn("Mailer failed", zap.String("user_id", r.UserID), zap.Error(err))
		}

		util.NotificationsSentTotal.WithLabelValues(r.Type).Inc()
	}
}
