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

// AuctionService drives the auction lifecycle: creation, start/reset,
// ending (manual and sweep-driven), seller decisions, and counter-offer
// resolution.
type AuctionService struct {
	store       store.AuctionStore
	cache       *redisclient.Client
	broadcaster *broker.Broadcaster
	notifier    *Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuctionService creates an auction service; cache may be nil
func NewAuctionService(
	st store.AuctionStore,
	cache *redisclient.Client,
	broadcaster *broker.Broadcaster,
	notifier *Notifier,
) *AuctionService {
	return &AuctionService{
		store:       st,
		cache:       cache,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// CreateAuctionRequest carries the seller's listing input
type CreateAuctionRequest struct {
	Title           string          `json:"title" binding:"required"`
	Description     string          `json:"description"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	GoLiveAt        *time.Time      `json:"go_live_at"`
	DurationMinutes int             `json:"duration_minutes" binding:"required,min=1"`
}

// CreateAuction creates a listing; it goes live immediately when its
// scheduled start is not in the future
func (s *AuctionService) CreateAuction(ctx context.Context, sellerID string, req *CreateAuctionRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.CreateAuction")
	defer span.End()

	if sellerID == "" || req.Title == "" {
		return nil, fmt.Errorf("%w: missing seller or title", aucterrors.ErrValidation)
	}
	if req.StartingPrice.IsNegative() {
		return nil, fmt.Errorf("%w: starting price must not be negative", aucterrors.ErrValidation)
	}
	if !req.BidIncrement.IsPositive() {
		return nil, fmt.Errorf("%w: bid increment must be positive", aucterrors.ErrValidation)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", aucterrors.ErrValidation)
	}

	now := s.now()
	goLiveAt := now
	if req.GoLiveAt != nil {
		goLiveAt = *req.GoLiveAt
	}

	status := models.AuctionStatusScheduled
	if !goLiveAt.After(now) {
		status = models.AuctionStatusLive
	}

	auction := &models.Auction{
		ID:            uuid.New().String(),
		SellerID:      sellerID,
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		BidIncrement:  req.BidIncrement,
		CurrentPrice:  req.StartingPrice,
		Status:        status,
		GoLiveAt:      goLiveAt.UTC(),
		EndsAt:        goLiveAt.Add(time.Duration(req.DurationMinutes) * time.Minute).UTC(),
	}

	if err := s.store.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	util.AuctionsCreatedTotal.Inc()
	s.logger.Info("Auction created",
		zap.String("auction_id", auction.ID),
		zap.String("seller_id", sellerID),
		zap.String("status", status))

	if status == models.AuctionStatusLive {
		s.seedCache(ctx, auction)
		s.broadcaster.Emit(ctx, models.EventAuctionStarted, auction.ID, s.statusPayload(auction))
	}

	return auction, nil
}

// StartAuction opens bidding now for the given number of minutes
func (s *AuctionService) StartAuction(ctx context.Context, auctionID, actorID string, minutes int) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.StartAuction")
	defer span.End()

	if minutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", aucterrors.ErrValidation)
	}

	a, err := s.authorizedSeller(ctx, auctionID, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	upd := store.ScheduleUpdate{
		Status:   models.AuctionStatusLive,
		GoLiveAt: now.UTC(),
		EndsAt:   now.Add(time.Duration(minutes) * time.Minute).UTC(),
	}
	if err := s.store.UpdateSchedule(ctx, auctionID, upd); err != nil {
		if err == aucterrors.ErrConflict {
			return nil, fmt.Errorf("%w: auction already closed", aucterrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to start auction: %w", err)
	}

	a.Status = upd.Status
	a.GoLiveAt = upd.GoLiveAt
	a.EndsAt = upd.EndsAt
	s.seedCache(ctx, a)

	s.logger.Info("Auction started", zap.String("auction_id", auctionID), zap.Int("minutes", minutes))
	s.broadcaster.Emit(ctx, models.EventAuctionStarted, auctionID, s.statusPayload(a))
	return a, nil
}

// ResetAuction restarts a stale or erroneously-run auction: price back to
// starting price, fresh window, back to scheduled
func (s *AuctionService) ResetAuction(ctx context.Context, auctionID, actorID string, minutes int) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.ResetAuction")
	defer span.End()

	if minutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", aucterrors.ErrValidation)
	}

	a, err := s.authorizedSeller(ctx, auctionID, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	upd := store.ScheduleUpdate{
		Status:     models.AuctionStatusScheduled,
		GoLiveAt:   now.UTC(),
		EndsAt:     now.Add(time.Duration(minutes) * time.Minute).UTC(),
		ResetPrice: true,
	}
	if err := s.store.UpdateSchedule(ctx, auctionID, upd); err != nil {
		if err == aucterrors.ErrConflict {
			return nil, fmt.Errorf("%w: auction already closed", aucterrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to reset auction: %w", err)
	}

	a.Status = upd.Status
	a.GoLiveAt = upd.GoLiveAt
	a.EndsAt = upd.EndsAt
	a.CurrentPrice = a.StartingPrice
	s.invalidateCache(ctx, auctionID)

	s.logger.Info("Auction reset", zap.String("auction_id", auctionID))
	s.broadcaster.Emit(ctx, models.EventAuctionReset, auctionID, s.statusPayload(a))
	return a, nil
}

// EndAuction ends bidding at the seller's request. Ending an auction that
// already ended is a no-op; a closed auction is a conflict.
func (s *AuctionService) EndAuction(ctx context.Context, auctionID, actorID string) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.EndAuction")
	defer span.End()

	a, err := s.authorizedSeller(ctx, auctionID, actorID)
	if err != nil {
		return nil, err
	}

	ended, err := s.store.MarkEnded(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to end auction: %w", err)
	}
	if !ended {
		switch a.Status {
		case models.AuctionStatusEnded:
			return a, nil
		case models.AuctionStatusClosed:
			return nil, fmt.Errorf("%w: auction already closed", aucterrors.ErrConflict)
		default:
			return nil, fmt.Errorf("%w: auction is not live", aucterrors.ErrConflict)
		}
	}

	a.Status = models.AuctionStatusEnded
	util.AuctionsEndedTotal.WithLabelValues("manual").Inc()
	s.logger.Info("Auction ended by seller", zap.String("auction_id", auctionID))
	s.endedSideEffects(ctx, a)
	return a, nil
}

// SweepExpired force-ends every live auction whose window has passed.
// Races with bids and manual ends are benign: whoever transitions the
// auction first wins and the loser observes a no-op.
func (s *AuctionService) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.SweepExpired")
	defer span.End()

	util.SweepRunsTotal.Inc()

	expired, err := s.store.ExpiredLive(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired auctions: %w", err)
	}

	ended := 0
	for i := range expired {
		a := expired[i]
		transitioned, err := s.store.MarkEnded(ctx, a.ID)
		if err != nil {
			s.logger.Error("Sweep failed to end auction", zap.String("auction_id", a.ID), zap.Error(err))
			continue
		}
		if !transitioned {
			continue
		}

		ended++
		a.Status = models.AuctionStatusEnded
		util.AuctionsEndedTotal.WithLabelValues("sweep").Inc()
		s.logger.Info("Auction expired", zap.String("auction_id", a.ID))
		s.endedSideEffects(ctx, &a)
	}
	return ended, nil
}

// Decide records the seller's verdict on an ended auction
func (s *AuctionService) Decide(ctx context.Context, auctionID, actorID, action string, amount decimal.Decimal) (*models.CounterOffer, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.Decide")
	defer span.End()

	a, err := s.authorizedSeller(ctx, auctionID, actorID)
	if err != nil {
		return nil, err
	}

	top, err := s.store.TopBid(ctx, auctionID)
	if err == aucterrors.ErrNoBids {
		return nil, fmt.Errorf("%w: no bids to decide on", aucterrors.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read top bid: %w", err)
	}

	switch action {
	case models.DecisionAccept:
		if err := s.closeAfterDecision(ctx, a); err != nil {
			return nil, err
		}
		s.logger.Info("Auction accepted",
			zap.String("auction_id", auctionID),
			zap.String("winner_id", top.BidderID),
			zap.String("amount", top.Amount.String()))
		s.notifier.Deliver(ctx, BuildDecisionFanout(a, top, models.EventAuctionAccepted))
		s.broadcaster.Emit(ctx, models.EventAuctionAccepted, auctionID, s.statusPayload(a))
		return nil, nil

	case models.DecisionReject:
		if err := s.closeAfterDecision(ctx, a); err != nil {
			return nil, err
		}
		s.logger.Info("Auction rejected", zap.String("auction_id", auctionID))
		s.notifier.Deliver(ctx, BuildDecisionFanout(a, top, models.EventAuctionRejected))
		s.broadcaster.Emit(ctx, models.EventAuctionRejected, auctionID, s.statusPayload(a))
		return nil, nil

	case models.DecisionCounter:
		if !amount.IsPositive() {
			return nil, fmt.Errorf("%w: counter amount must be positive", aucterrors.ErrValidation)
		}
		if a.Status != models.AuctionStatusEnded {
			return nil, fmt.Errorf("%w: auction is not awaiting a decision", aucterrors.ErrConflict)
		}

		counter := &models.CounterOffer{
			ID:        uuid.New().String(),
			AuctionID: auctionID,
			SellerID:  actorID,
			BuyerID:   top.BidderID,
			Amount:    amount,
			Status:    models.CounterStatusPending,
		}
		if err := s.store.CreateCounterOffer(ctx, counter); err != nil {
			return nil, fmt.Errorf("failed to create counter-offer: %w", err)
		}

		s.logger.Info("Counter-offer created",
			zap.String("auction_id", auctionID),
			zap.String("buyer_id", counter.BuyerID),
			zap.String("amount", amount.String()))
		s.notifier.Deliver(ctx, BuildOfferFanout(counter, models.EventOfferCounter, counter.BuyerID))
		s.broadcaster.Emit(ctx, models.EventOfferCounter, auctionID, s.offerPayload(counter))
		return counter, nil

	default:
		return nil, fmt.Errorf("%w: unknown decision action %q", aucterrors.ErrValidation, action)
	}
}

// ReplyCounter resolves a pending counter-offer. Only the addressed buyer
// may reply; either reply closes the auction, and acceptance sets the
// final price to the counter amount.
func (s *AuctionService) ReplyCounter(ctx context.Context, counterID, actorID string, accept bool) (*models.CounterOffer, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.ReplyCounter")
	defer span.End()

	counter, err := s.store.GetCounterOffer(ctx, counterID)
	if err != nil {
		return nil, err
	}
	if counter.BuyerID != actorID {
		return nil, fmt.Errorf("%w: counter-offer is not addressed to this buyer", aucterrors.ErrForbidden)
	}

	resolved, err := s.store.ResolveCounterOffer(ctx, counterID, accept)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve counter-offer: %w", err)
	}
	if !resolved {
		return nil, fmt.Errorf("%w: counter-offer already resolved", aucterrors.ErrConflict)
	}

	eventType := models.EventOfferRejected
	counter.Status = models.CounterStatusRejected
	if accept {
		eventType = models.EventOfferAccepted
		counter.Status = models.CounterStatusAccepted
		if err := s.store.SetCurrentPrice(ctx, counter.AuctionID, counter.Amount); err != nil {
			s.logger.Error("Failed to apply counter-offer price",
				zap.String("auction_id", counter.AuctionID), zap.Error(err))
		}
	}

	closed, err := s.store.CloseAuction(ctx, counter.AuctionID)
	if err != nil {
		s.logger.Error("Failed to close auction after counter reply",
			zap.String("auction_id", counter.AuctionID), zap.Error(err))
	}
	if closed {
		util.AuctionsClosedTotal.Inc()
	}
	s.invalidateCache(ctx, counter.AuctionID)

	s.logger.Info("Counter-offer resolved",
		zap.String("counter_id", counterID),
		zap.Bool("accepted", accept))
	s.notifier.Deliver(ctx, BuildOfferFanout(counter, eventType, counter.SellerID))
	s.broadcaster.Emit(ctx, eventType, counter.AuctionID, s.offerPayload(counter))
	return counter, nil
}

// GetAuction returns an auction together with its bids, most recent first
func (s *AuctionService) GetAuction(ctx context.Context, auctionID string) (*models.Auction, []models.Bid, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	bids, err := s.store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	return a, bids, nil
}

// ListOpenAuctions returns all auctions that are not closed
func (s *AuctionService) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	return s.store.ListOpenAuctions(ctx)
}

// ListNotifications returns a user's notifications, most recent first
func (s *AuctionService) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, userID)
}

// authorizedSeller loads the auction and checks the actor owns it
func (s *AuctionService) authorizedSeller(ctx context.Context, auctionID, actorID string) (*models.Auction, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != actorID {
		return nil, fmt.Errorf("%w: only the seller may perform this action", aucterrors.ErrForbidden)
	}
	return a, nil
}

// closeAfterDecision performs the conditional ended -> closed transition;
// a failed transition means the decision raced another one and loses.
func (s *AuctionService) closeAfterDecision(ctx context.Context, a *models.Auction) error {
	closed, err := s.store.CloseAuction(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to close auction: %w", err)
	}
	if !closed {
		if a.Status == models.AuctionStatusClosed {
			return fmt.Errorf("%w: auction already closed", aucterrors.ErrConflict)
		}
		return fmt.Errorf("%w: auction is not awaiting a decision", aucterrors.ErrConflict)
	}

	a.Status = models.AuctionStatusClosed
	util.AuctionsClosedTotal.Inc()
	s.invalidateCache(ctx, a.ID)
	return nil
}

// endedSideEffects runs the shared end-of-auction fan-out used by both
// manual ends and the sweep
func (s *AuctionService) endedSideEffects(ctx context.Context, a *models.Auction) {
	s.invalidateCache(ctx, a.ID)
	s.broadcaster.Emit(ctx, models.EventAuctionEnded, a.ID, s.statusPayload(a))

	bids, err := s.store.ListBids(ctx, a.ID)
	if err != nil {
		s.logger.Warn("Skipping ended fan-out, bid list read failed",
			zap.String("auction_id", a.ID), zap.Error(err))
		return
	}
	s.notifier.Deliver(ctx, BuildEndedFanout(a, bids))
}

func (s *AuctionService) statusPayload(a *models.Auction) models.AuctionStatusPayload {
	return models.AuctionStatusPayload{
		AuctionID:    a.ID,
		Status:       a.Status,
		CurrentPrice: a.CurrentPrice.String(),
		EndsAt:       a.EndsAt,
	}
}

func (s *AuctionService) offerPayload(c *models.CounterOffer) models.OfferPayload {
	return models.OfferPayload{
		CounterID: c.ID,
		AuctionID: c.AuctionID,
		BuyerID:   c.BuyerID,
		Amount:    c.Amount.String(),
		Status:    c.Status,
	}
}

// seedCache write-through refreshes the advisory snapshot
func (s *AuctionService) seedCache(ctx context.Context, a *models.Auction) {
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

func (s *AuctionService) invalidateCache(ctx context.Context, auctionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePriceCache(ctx, auctionID); err != nil {
		s.logger.Warn("Failed to invalidate price cache", zap.String("auction_id", auctionID), zap.Error(err))
	}
}
