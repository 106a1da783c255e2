package service

import (
	"context"
	"testing"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAuctionScheduledVsLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour)
	scheduled, err := env.auctions.CreateAuction(ctx, "seller", &CreateAuctionRequest{
		Title:           "later",
		StartingPrice:   decimal.NewFromInt(50),
		BidIncrement:    decimal.NewFromInt(1),
		GoLiveAt:        &future,
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusScheduled, scheduled.Status)

	live, err := env.auctions.CreateAuction(ctx, "seller", &CreateAuctionRequest{
		Title:           "now",
		StartingPrice:   decimal.NewFromInt(50),
		BidIncrement:    decimal.NewFromInt(1),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, live.Status)
	assert.True(t, live.CurrentPrice.Equal(live.StartingPrice))
	assert.True(t, live.EndsAt.After(live.GoLiveAt))
}

func TestCreateAuctionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateAuctionRequest
	}{
		{"missing title", CreateAuctionRequest{BidIncrement: decimal.NewFromInt(1), DurationMinutes: 10}},
		{"negative starting price", CreateAuctionRequest{Title: "x", StartingPrice: decimal.NewFromInt(-1), BidIncrement: decimal.NewFromInt(1), DurationMinutes: 10}},
		{"zero increment", CreateAuctionRequest{Title: "x", DurationMinutes: 10}},
		{"zero duration", CreateAuctionRequest{Title: "x", BidIncrement: decimal.NewFromInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.auctions.CreateAuction(ctx, "seller", &tc.req)
			assert.ErrorIs(t, err, aucterrors.ErrValidation)
		})
	}
}

func TestStartAuctionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.auctions.StartAuction(ctx, a.ID, "intruder", 10)
	assert.ErrorIs(t, err, aucterrors.ErrForbidden)

	started, err := env.auctions.StartAuction(ctx, a.ID, "seller", 10)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, started.Status)
}

func TestResetRestoresStartingPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(150))
	require.NoError(t, err)

	reset, err := env.auctions.ResetAuction(ctx, a.ID, "seller", 20)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusScheduled, reset.Status)
	assert.True(t, reset.CurrentPrice.Equal(decimal.NewFromInt(100)))

	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(100)))
}

func TestStartClosedAuctionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)
	a.Status = models.AuctionStatusClosed
	require.NoError(t, env.store.CreateAuction(ctx, a))

	_, err := env.auctions.StartAuction(ctx, a.ID, "seller", 10)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)

	_, err = env.auctions.ResetAuction(ctx, a.ID, "seller", 10)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)
}

func TestEndAuction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)

	_, err = env.auctions.EndAuction(ctx, a.ID, "intruder")
	assert.ErrorIs(t, err, aucterrors.ErrForbidden)

	ended, err := env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, ended.Status)

	assert.Equal(t, 1, env.store.notificationCount("seller", models.EventAuctionEnded))
	assert.Equal(t, 1, env.store.notificationCount("alice", models.EventAuctionEnded))

	// Ending again is a benign no-op without duplicate fan-out.
	_, err = env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.notificationCount("seller", models.EventAuctionEnded))
}

func TestSweepIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)

	// First pass after expiry ends the auction.
	env.auctions.now = func() time.Time { return a.EndsAt.Add(time.Second) }
	ended, err := env.auctions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)

	// Second pass finds nothing to do and produces no duplicate notices.
	ended, err = env.auctions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ended)
	assert.Equal(t, 1, env.store.notificationCount("seller", models.EventAuctionEnded))
	assert.Equal(t, 1, env.store.notificationCount("alice", models.EventAuctionEnded))
}

func TestDecisionRequiresBids(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)

	_, err = env.auctions.Decide(ctx, a.ID, "seller", models.DecisionAccept, decimal.Zero)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)
}

func TestDecisionExclusivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)
	_, err = env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)

	_, err = env.auctions.Decide(ctx, a.ID, "seller", models.DecisionAccept, decimal.Zero)
	require.NoError(t, err)

	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)

	// A second decision must conflict, not silently no-op.
	_, err = env.auctions.Decide(ctx, a.ID, "seller", models.DecisionReject, decimal.Zero)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)
}

func TestDecisionOnLiveAuctionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)

	_, err = env.auctions.Decide(ctx, a.ID, "seller", models.DecisionAccept, decimal.Zero)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)
}

func TestCounterOfferFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)
	_, err = env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)

	counter, err := env.auctions.Decide(ctx, a.ID, "seller", models.DecisionCounter, decimal.NewFromInt(150))
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, "alice", counter.BuyerID)
	assert.Equal(t, models.CounterStatusPending, counter.Status)

	// The auction stays ended until the buyer resolves the counter.
	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
	assert.Equal(t, 1, env.store.notificationCount("alice", models.EventOfferCounter))

	// Only the addressed buyer may reply.
	_, err = env.auctions.ReplyCounter(ctx, counter.ID, "bob", true)
	assert.ErrorIs(t, err, aucterrors.ErrForbidden)

	resolved, err := env.auctions.ReplyCounter(ctx, counter.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, models.CounterStatusAccepted, resolved.Status)

	got, err = env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 1, env.store.notificationCount("seller", models.EventOfferAccepted))

	// Resolution happens exactly once.
	_, err = env.auctions.ReplyCounter(ctx, counter.ID, "alice", false)
	assert.ErrorIs(t, err, aucterrors.ErrConflict)
}

func TestCounterOfferRejectCloses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.liveAuction(t, "seller", 100, 5, time.Hour)

	_, err := env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(110))
	require.NoError(t, err)
	_, err = env.auctions.EndAuction(ctx, a.ID, "seller")
	require.NoError(t, err)

	counter, err := env.auctions.Decide(ctx, a.ID, "seller", models.DecisionCounter, decimal.NewFromInt(150))
	require.NoError(t, err)

	resolved, err := env.auctions.ReplyCounter(ctx, counter.ID, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, models.CounterStatusRejected, resolved.Status)

	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)
	// A rejected counter never moves the price.
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(110)))
}

// TestAuctionLifecycleScenario walks the full path: create live, compete,
// expire via sweep, accept the top bid.
func TestAuctionLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.auctions.CreateAuction(ctx, "seller", &CreateAuctionRequest{
		Title:           "scenario lot",
		StartingPrice:   decimal.NewFromInt(100),
		BidIncrement:    decimal.NewFromInt(5),
		DurationMinutes: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusLive, a.Status)
	assert.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(100)))

	_, err = env.bids.PlaceBid(ctx, a.ID, "alice", decimal.NewFromInt(105))
	require.NoError(t, err)

	_, err = env.bids.PlaceBid(ctx, a.ID, "bob", decimal.NewFromInt(103))
	assert.ErrorIs(t, err, aucterrors.ErrTooLow)

	_, err = env.bids.PlaceBid(ctx, a.ID, "bob", decimal.NewFromInt(200))
	require.NoError(t, err)

	got, err := env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(200)))

	// Ten minutes pass; the sweep ends the auction.
	env.auctions.now = func() time.Time { return a.EndsAt.Add(time.Second) }
	ended, err := env.auctions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	top, err := env.store.TopBid(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", top.BidderID)

	_, err = env.auctions.Decide(ctx, a.ID, "seller", models.DecisionAccept, decimal.Zero)
	require.NoError(t, err)

	got, err = env.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusClosed, got.Status)
	assert.Equal(t, 1, env.store.notificationCount("bob", models.EventAuctionAccepted))
}
