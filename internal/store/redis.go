package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"
	"auction-service/internal/redisclient"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// RedisStore is the key-value AuctionStore implementation. Redis has no
// filtered conditional update over JSON values, so every state-changing
// operation serializes on a short-TTL advisory lock scoped to the auction
// and re-checks the invariants after acquiring it.
type RedisStore struct {
	client  *redisclient.Client
	lockTTL time.Duration
}

// NewRedisStore returns a key-value store on top of an existing client
func NewRedisStore(client *redisclient.Client, lockTTL time.Duration) *RedisStore {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &RedisStore{client: client, lockTTL: lockTTL}
}

func auctionKey(id string) string     { return fmt.Sprintf("auction:%s", id) }
func bidsKey(auctionID string) string { return fmt.Sprintf("auction:%s:bids", auctionID) }
func counterKey(id string) string     { return fmt.Sprintf("counter:%s", id) }
func notificationsKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

const openAuctionsKey = "auctions:open"

func (s *RedisStore) rdb() *redis.Client {
	return s.client.GetClient()
}

// withLock runs fn under the per-auction advisory lock
func (s *RedisStore) withLock(ctx context.Context, auctionID string, fn func() error) error {
	lockKey := fmt.Sprintf("auction:%s", auctionID)

	deadline := time.Now().Add(s.lockTTL)
	for {
		ok, err := s.client.AcquireLock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire auction lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for auction lock: %s", auctionID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer func() {
		_ = s.client.ReleaseLock(context.Background(), lockKey)
	}()

	return fn()
}

func (s *RedisStore) putAuction(ctx context.Context, a *models.Auction) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := s.rdb().Pipeline()
	pipe.Set(ctx, auctionKey(a.ID), raw, 0)
	if a.Status == models.AuctionStatusClosed {
		pipe.SRem(ctx, openAuctionsKey, a.ID)
	} else {
		pipe.SAdd(ctx, openAuctionsKey, a.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) readAuction(ctx context.Context, id string) (*models.Auction, error) {
	raw, err := s.rdb().Get(ctx, auctionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, aucterrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a models.Auction
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("corrupt auction record: %w", err)
	}
	return &a, nil
}

// CreateAuction stores a new auction record
func (s *RedisStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	return s.putAuction(ctx, a)
}

// GetAuction retrieves an auction by ID
func (s *RedisStore) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	return s.readAuction(ctx, id)
}

// ListOpenAuctions retrieves all auctions that are not closed
func (s *RedisStore) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	ids, err := s.rdb().SMembers(ctx, openAuctionsKey).Result()
	if err != nil {
		return nil, err
	}

	auctions := make([]models.Auction, 0, len(ids))
	for _, id := range ids {
		a, err := s.readAuction(ctx, id)
		if err == aucterrors.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, nil
}

// RaisePrice re-checks the bid invariants under the advisory lock and
// rewrites the price; the lock makes check-then-write atomic against
// concurrent bidders and the sweep.
func (s *RedisStore) RaisePrice(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) (bool, error) {
	var accepted bool
	err := s.withLock(ctx, auctionID, func() error {
		a, err := s.readAuction(ctx, auctionID)
		if err == aucterrors.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		if a.Status != models.AuctionStatusLive || !a.EndsAt.After(now) {
			return nil
		}
		if a.CurrentPrice.GreaterThan(amount.Sub(a.BidIncrement)) {
			return nil
		}

		a.CurrentPrice = amount
		a.UpdatedAt = now.UTC()
		if err := s.putAuction(ctx, a); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	return accepted, err
}

// InsertBid stores an accepted bid record, indexed by amount for top-bid
// queries and kept in arrival order for recency queries
func (s *RedisStore) InsertBid(ctx context.Context, bid *models.Bid) error {
	bid.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(bid)
	if err != nil {
		return err
	}

	amount, _ := bid.Amount.Float64()
	pipe := s.rdb().Pipeline()
	pipe.RPush(ctx, bidsKey(bid.AuctionID), raw)
	pipe.ZAdd(ctx, bidsKey(bid.AuctionID)+":byamount", &redis.Z{Score: amount, Member: raw})
	_, err = pipe.Exec(ctx)
	return err
}

// ListBids retrieves all bids for an auction, most recent first
func (s *RedisStore) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	raws, err := s.rdb().LRange(ctx, bidsKey(auctionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	bids := make([]models.Bid, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var b models.Bid
		if err := json.Unmarshal([]byte(raws[i]), &b); err != nil {
			return nil, fmt.Errorf("corrupt bid record: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// TopBid retrieves the highest bid, ties broken by earliest creation
func (s *RedisStore) TopBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	top, err := s.rdb().ZRevRangeWithScores(ctx, bidsKey(auctionID)+":byamount", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, aucterrors.ErrNoBids
	}

	var best *models.Bid
	bestScore := top[0].Score
	for _, z := range top {
		if z.Score < bestScore {
			break
		}
		var b models.Bid
		if err := json.Unmarshal([]byte(z.Member.(string)), &b); err != nil {
			return nil, fmt.Errorf("corrupt bid record: %w", err)
		}
		if best == nil || b.CreatedAt.Before(best.CreatedAt) {
			bid := b
			best = &bid
		}
	}
	return best, nil
}

// UpdateSchedule rewrites status and the bidding window under the lock
func (s *RedisStore) UpdateSchedule(ctx context.Context, auctionID string, upd ScheduleUpdate) error {
	return s.withLock(ctx, auctionID, func() error {
		a, err := s.readAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status == models.AuctionStatusClosed {
			return aucterrors.ErrConflict
		}

		a.Status = upd.Status
		a.GoLiveAt = upd.GoLiveAt
		a.EndsAt = upd.EndsAt
		if upd.ResetPrice {
			a.CurrentPrice = a.StartingPrice
		}
		a.UpdatedAt = time.Now().UTC()
		return s.putAuction(ctx, a)
	})
}

func (s *RedisStore) transitionStatus(ctx context.Context, auctionID, from, to string) (bool, error) {
	var done bool
	err := s.withLock(ctx, auctionID, func() error {
		a, err := s.readAuction(ctx, auctionID)
		if err == aucterrors.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if a.Status != from {
			return nil
		}

		a.Status = to
		a.UpdatedAt = time.Now().UTC()
		if err := s.putAuction(ctx, a); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// MarkEnded transitions a live auction to ended; idempotent under races
func (s *RedisStore) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	return s.transitionStatus(ctx, auctionID, models.AuctionStatusLive, models.AuctionStatusEnded)
}

// CloseAuction transitions an ended auction to closed exactly once
func (s *RedisStore) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	return s.transitionStatus(ctx, auctionID, models.AuctionStatusEnded, models.AuctionStatusClosed)
}

// ExpiredLive retrieves live auctions whose window has passed
func (s *RedisStore) ExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	open, err := s.ListOpenAuctions(ctx)
	if err != nil {
		return nil, err
	}

	var expired []models.Auction
	for _, a := range open {
		if a.Status == models.AuctionStatusLive && !a.EndsAt.After(now) {
			expired = append(expired, a)
		}
	}
	return expired, nil
}

// CreateCounterOffer stores a pending counter-offer
func (s *RedisStore) CreateCounterOffer(ctx context.Context, c *models.CounterOffer) error {
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb().Set(ctx, counterKey(c.ID), raw, 0).Err()
}

// GetCounterOffer retrieves a counter-offer by ID
func (s *RedisStore) GetCounterOffer(ctx context.Context, id string) (*models.CounterOffer, error) {
	raw, err := s.rdb().Get(ctx, counterKey(id)).Bytes()
	if err == redis.Nil {
		return nil, aucterrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c models.CounterOffer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("corrupt counter-offer record: %w", err)
	}
	return &c, nil
}

// ResolveCounterOffer resolves a pending counter-offer exactly once,
// serialized on the owning auction's lock
func (s *RedisStore) ResolveCounterOffer(ctx context.Context, id string, accept bool) (bool, error) {
	c, err := s.GetCounterOffer(ctx, id)
	if err != nil {
		return false, err
	}

	var done bool
	err = s.withLock(ctx, c.AuctionID, func() error {
		c, err := s.GetCounterOffer(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != models.CounterStatusPending {
			return nil
		}

		if accept {
			c.Status = models.CounterStatusAccepted
		} else {
			c.Status = models.CounterStatusRejected
		}
		c.UpdatedAt = time.Now().UTC()

		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := s.rdb().Set(ctx, counterKey(id), raw, 0).Err(); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// SetCurrentPrice overrides the current price (accepted counter-offer)
func (s *RedisStore) SetCurrentPrice(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	return s.withLock(ctx, auctionID, func() error {
		a, err := s.readAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		a.CurrentPrice = amount
		a.UpdatedAt = time.Now().UTC()
		return s.putAuction(ctx, a)
	})
}

// InsertNotification persists one fan-out record
func (s *RedisStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	n.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.rdb().LPush(ctx, notificationsKey(n.UserID), raw).Err()
}

// ListNotifications retrieves notifications for a user, most recent first
func (s *RedisStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	raws, err := s.rdb().LRange(ctx, notificationsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	ns := make([]models.Notification, 0, len(raws))
	for _, raw := range raws {
		var n models.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, fmt.Errorf("corrupt notification record: %w", err)
		}
		ns = append(ns, n)
	}
	return ns, nil
}
