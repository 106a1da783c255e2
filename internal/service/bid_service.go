package service

import (
	"context"
	"fmt"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/redisclient"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BidService validates and atomically commits bids. The price cache is a
// fast rejection path only; acceptance always goes through the
// authoritative store's conditional update.
type BidService struct {
	store       store.AuctionStore
	cache       *redisclient.Client
	broadcaster *broker.Broadcaster
	notifier    *Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewBidService creates a bid service; cache may be nil
func NewBidService(
	st store.AuctionStore,
	cache *redisclient.Client,
	broadcaster *broker.Broadcaster,
	notifier *Notifier,
) *BidService {
	return &BidService{
		store:       st,
		cache:       cache,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// PlaceBid validates and commits one bid. On success the auction's
// current price has been raised to amount and a Bid record exists for it;
// notification and broadcast side effects are best-effort and never
// affect the result.
func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*models.Bid, error) {
	ctx, span := util.StartSpan(ctx, "BidService.PlaceBid")
	defer span.End()

	if auctionID == "" || bidderID == "" {
		return nil, fmt.Errorf("%w: missing auction or bidder", aucterrors.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", aucterrors.ErrValidation)
	}

	now := s.now()

	if err := s.fastReject(ctx, auctionID, amount, now); err != nil {
		return nil, err
	}

	start := time.Now()
	accepted, err := s.store.RaisePrice(ctx, auctionID, amount, now)
	util.BidCommitLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	if !accepted {
		return nil, s.classifyRejection(ctx, auctionID, amount, now)
	}

	bid := &models.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now.UTC(),
	}
	if err := s.store.InsertBid(ctx, bid); err != nil {
		// The price already moved; the bid record must exist with it.
		return nil, fmt.Errorf("failed to record accepted bid: %w", err)
	}

	util.BidsAcceptedTotal.Inc()
	s.logger.Info("Bid accepted",
		zap.String("auction_id", auctionID),
		zap.String("bidder_id", bidderID),
		zap.String("amount", amount.String()))

	s.afterAccept(ctx, bid)
	return bid, nil
}

// fastReject consults the advisory cache. It only ever rejects; a stale
// or missing snapshot falls through to the authoritative commit.
func (s *BidService) fastReject(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) error {
	if s.cache == nil {
		return nil
	}

	snap, err := s.cache.GetPriceSnapshot(ctx, auctionID)
	if err != nil {
		util.PriceCacheHitsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Price cache lookup failed", zap.Error(err))
		return nil
	}
	if snap == nil {
		util.PriceCacheHitsTotal.WithLabelValues("miss").Inc()
		return nil
	}

	if !snap.EndsAt.After(now) {
		util.PriceCacheHitsTotal.WithLabelValues("reject_ended").Inc()
		util.BidsRejectedTotal.WithLabelValues("ended").Inc()
		return fmt.Errorf("%w: bidding window closed", aucterrors.ErrEnded)
	}
	if amount.LessThan(snap.CurrentPrice.Add(snap.BidIncrement)) {
		util.PriceCacheHitsTotal.WithLabelValues("reject_too_low").Inc()
		util.BidsRejectedTotal.WithLabelValues("too_low").Inc()
		return fmt.Errorf("%w: minimum next bid is %s", aucterrors.ErrTooLow, snap.CurrentPrice.Add(snap.BidIncrement))
	}

	util.PriceCacheHitsTotal.WithLabelValues("pass").Inc()
	return nil
}

// classifyRejection re-reads the auction to tell the caller why the
// conditional write matched nothing. The rejection itself was decided by
// the failed write, not by this read.
func (s *BidService) classifyRejection(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) error {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err == aucterrors.ErrNotFound {
		util.BidsRejectedTotal.WithLabelValues("not_found").Inc()
		return aucterrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to classify rejected bid: %w", err)
	}

	if a.Status != models.AuctionStatusLive || !a.EndsAt.After(now) {
		util.BidsRejectedTotal.WithLabelValues("ended").Inc()
		return fmt.Errorf("%w: bidding window closed", aucterrors.ErrEnded)
	}

	minNext := a.CurrentPrice.Add(a.BidIncrement)
	util.BidsRejectedTotal.WithLabelValues("too_low").Inc()
	return fmt.Errorf("%w: minimum next bid is %s, got %s", aucterrors.ErrTooLow, minNext, amount)
}

// afterAccept runs the best-effort side effects of a committed bid
func (s *BidService) afterAccept(ctx context.Context, bid *models.Bid) {
	a, err := s.store.GetAuction(ctx, bid.AuctionID)
	if err != nil {
		s.logger.Warn("Skipping bid fan-out, auction re-read failed", zap.Error(err))
		return
	}

	s.seedCache(ctx, a)

	s.broadcaster.Emit(ctx, models.EventBidAccepted, a.ID, models.BidAcceptedPayload{
		AuctionID: a.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount.String(),
	})

	bids, err := s.store.ListBids(ctx, bid.AuctionID)
	if err != nil {
		s.logger.Warn("Skipping bid fan-out, bid list read failed", zap.Error(err))
		return
	}
	prior := make([]models.Bid, 0, len(bids))
	for _, b := range bids {
		if b.ID != bid.ID {
			prior = append(prior, b)
		}
	}

	s.notifier.Deliver(ctx, BuildBidFanout(a, prior, bid))
}

// seedCache write-through refreshes the advisory snapshot
func (s *BidService) seedCache(ctx context.Context, a *models.Auction) {
	if s.cache == nil {
		return
	}
	err := s.cache.SeedPriceCache(ctx, a.ID, redisclient.PriceSnapshot{
		CurrentPrice: a.CurrentPrice,
		BidIncrement: a.BidIncrement,
		EndsAt:       a.EndsAt,
	})
	if err != nil {
		s.logger.Warn("Failed to seed price cache", zap.String("auction_id", a.ID), zap.Error(err))
	}
}
