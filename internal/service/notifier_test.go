package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/ws"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bid(bidder string, amount int64, at time.Time) models.Bid {
	return models.Bid{
		ID:        fmt.Sprintf("bid-%s-%d", bidder, amount),
		BidderID:  bidder,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: at,
	}
}

func recipientsByType(recipients []Recipient, eventType string) []string {
	var out []string
	for _, r := range recipients {
		if r.Type == eventType {
			out = append(out, r.UserID)
		}
	}
	return out
}

func TestBuildBidFanoutRoles(t *testing.T) {
	base := time.Now()
	a := &models.Auction{ID: "a1", SellerID: "seller"}
	accepted := bid("carol", 120, base.Add(3*time.Second))
	prior := []models.Bid{
		bid("alice", 105, base),
		bid("bob", 110, base.Add(time.Second)),
	}

	recipients := BuildBidFanout(a, prior, &accepted)

	assert.Equal(t, []string{"bob"}, recipientsByType(recipients, models.EventBidOutbid))
	assert.Equal(t, []string{"seller"}, recipientsByType(recipients, models.EventBidNew))
	assert.Equal(t, []string{"alice"}, recipientsByType(recipients, models.EventBidUpdate))
}

func TestBuildBidFanoutExcludesCurrentBidder(t *testing.T) {
	base := time.Now()
	a := &models.Auction{ID: "a1", SellerID: "seller"}

	// Carol outbids herself; alice, not carol, held the previous top among
	// other bidders.
	accepted := bid("carol", 130, base.Add(3*time.Second))
	prior := []models.Bid{
		bid("alice", 105, base),
		bid("carol", 120, base.Add(time.Second)),
	}

	recipients := BuildBidFanout(a, prior, &accepted)

	assert.Equal(t, []string{"alice"}, recipientsByType(recipients, models.EventBidOutbid))
	assert.Empty(t, recipientsByType(recipients, models.EventBidUpdate))
	for _, r := range recipients {
		assert.NotEqual(t, "carol", r.UserID, "bidders never notify themselves")
	}
}

func TestBuildBidFanoutNoPriorBids(t *testing.T) {
	a := &models.Auction{ID: "a1", SellerID: "seller"}
	accepted := bid("alice", 105, time.Now())

	recipients := BuildBidFanout(a, nil, &accepted)

	require.Len(t, recipients, 1)
	assert.Equal(t, "seller", recipients[0].UserID)
	assert.Equal(t, models.EventBidNew, recipients[0].Type)
}

func TestBuildBidFanoutTieBreaksByEarliest(t *testing.T) {
	base := time.Now()
	a := &models.Auction{ID: "a1", SellerID: "seller"}
	accepted := bid("carol", 120, base.Add(time.Minute))

	// Equal amounts: the earlier bid held the top.
	prior := []models.Bid{
		bid("bob", 110, base.Add(time.Second)),
		bid("alice", 110, base),
	}

	recipients := BuildBidFanout(a, prior, &accepted)
	assert.Equal(t, []string{"alice"}, recipientsByType(recipients, models.EventBidOutbid))
	assert.Equal(t, []string{"bob"}, recipientsByType(recipients, models.EventBidUpdate))
}

func TestBuildBidFanoutCapped(t *testing.T) {
	base := time.Now()
	a := &models.Auction{ID: "a1", SellerID: "seller"}
	accepted := bid("winner", 10_000, base.Add(time.Hour))

	var prior []models.Bid
	for i := 0; i < fanoutCap+50; i++ {
		prior = append(prior, bid(fmt.Sprintf("bidder-%03d", i), int64(100+i), base.Add(time.Duration(i)*time.Second)))
	}

	recipients := BuildBidFanout(a, prior, &accepted)
	assert.LessOrEqual(t, len(recipients), fanoutCap)

	// Outbid and seller notices survive the cap.
	assert.Len(t, recipientsByType(recipients, models.EventBidOutbid), 1)
	assert.Len(t, recipientsByType(recipients, models.EventBidNew), 1)
}

func TestBuildEndedFanoutDistinctBidders(t *testing.T) {
	base := time.Now()
	a := &models.Auction{ID: "a1", SellerID: "seller", CurrentPrice: decimal.NewFromInt(120)}
	bids := []models.Bid{
		bid("alice", 105, base),
		bid("bob", 110, base.Add(time.Second)),
		bid("alice", 120, base.Add(2*time.Second)),
	}

	recipients := BuildEndedFanout(a, bids)

	got := recipientsByType(recipients, models.EventAuctionEnded)
	assert.ElementsMatch(t, []string{"seller", "alice", "bob"}, got)
}

func TestBuildDecisionFanout(t *testing.T) {
	a := &models.Auction{ID: "a1", SellerID: "seller"}
	top := bid("alice", 120, time.Now())

	recipients := BuildDecisionFanout(a, &top, models.EventAuctionAccepted)
	require.Len(t, recipients, 1)
	assert.Equal(t, "alice", recipients[0].UserID)
	assert.Equal(t, models.EventAuctionAccepted, recipients[0].Type)
}

func TestDeliverPersistsAndBroadcasts(t *testing.T) {
	st := newFakeStore()
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	notifier := NewNotifier(st, broker.NewBroadcaster(hub, nil, "test-instance"), nil)
	notifier.Deliver(context.Background(), []Recipient{
		{UserID: "alice", Type: models.EventBidOutbid, Payload: map[string]string{"auction_id": "a1"}},
		{UserID: "seller", Type: models.EventBidNew, Payload: map[string]string{"auction_id": "a1"}},
	})

	assert.Equal(t, 1, st.notificationCount("alice", models.EventBidOutbid))
	assert.Equal(t, 1, st.notificationCount("seller", models.EventBidNew))
}
