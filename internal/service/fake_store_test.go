package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"
	"auction-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory AuctionStore with the same conditional-write
// semantics as the real backends. A single mutex makes every operation
// atomic, which lets the tests race goroutines against it.
type fakeStore struct {
	mu            sync.Mutex
	auctions      map[string]*models.Auction
	bids          map[string][]models.Bid
	counters      map[string]*models.CounterOffer
	notifications map[string][]models.Notification

	// priceHistory records every accepted raise in commit order, per
	// auction, so tests can assert monotonicity under concurrency.
	priceHistory map[string][]decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions:      make(map[string]*models.Auction),
		bids:          make(map[string][]models.Bid),
		counters:      make(map[string]*models.CounterOffer),
		notifications: make(map[string][]models.Notification),
		priceHistory:  make(map[string][]decimal.Decimal),
	}
}

var _ store.AuctionStore = (*fakeStore)(nil)

func (f *fakeStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.auctions[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[id]
	if !ok {
		return nil, aucterrors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Auction
	for _, a := range f.auctions {
		if a.Status != models.AuctionStatusClosed {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) RaisePrice(ctx context.Context, auctionID string, amount decimal.Decimal, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return false, nil
	}
	if a.Status != models.AuctionStatusLive || !a.EndsAt.After(now) {
		return false, nil
	}
	if a.CurrentPrice.GreaterThan(amount.Sub(a.BidIncrement)) {
		return false, nil
	}
	a.CurrentPrice = amount
	a.UpdatedAt = now
	f.priceHistory[auctionID] = append(f.priceHistory[auctionID], amount)
	return true, nil
}

func (f *fakeStore) InsertBid(ctx context.Context, bid *models.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids[bid.AuctionID] = append(f.bids[bid.AuctionID], *bid)
	return nil
}

func (f *fakeStore) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bids := append([]models.Bid(nil), f.bids[auctionID]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

func (f *fakeStore) TopBid(ctx context.Context, auctionID string) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bids := f.bids[auctionID]
	if len(bids) == 0 {
		return nil, aucterrors.ErrNoBids
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt)) {
			best = b
		}
	}
	return &best, nil
}

func (f *fakeStore) UpdateSchedule(ctx context.Context, auctionID string, upd store.ScheduleUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return aucterrors.ErrNotFound
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
	return nil
}

func (f *fakeStore) transition(auctionID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return false, nil
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (f *fakeStore) MarkEnded(ctx context.Context, auctionID string) (bool, error) {
	return f.transition(auctionID, models.AuctionStatusLive, models.AuctionStatusEnded)
}

func (f *fakeStore) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	return f.transition(auctionID, models.AuctionStatusEnded, models.AuctionStatusClosed)
}

func (f *fakeStore) ExpiredLive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Auction
	for _, a := range f.auctions {
		if a.Status == models.AuctionStatusLive && !a.EndsAt.After(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCounterOffer(ctx context.Context, c *models.CounterOffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.counters[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetCounterOffer(ctx context.Context, id string) (*models.CounterOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[id]
	if !ok {
		return nil, aucterrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ResolveCounterOffer(ctx context.Context, id string, accept bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[id]
	if !ok {
		return false, aucterrors.ErrNotFound
	}
	if c.Status != models.CounterStatusPending {
		return false, nil
	}
	if accept {
		c.Status = models.CounterStatusAccepted
	} else {
		c.Status = models.CounterStatusRejected
	}
	return true, nil
}

func (f *fakeStore) SetCurrentPrice(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return aucterrors.ErrNotFound
	}
	a.CurrentPrice = amount
	return nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications[n.UserID] = append(f.notifications[n.UserID], *n)
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.notifications[userID]...), nil
}

// notificationCount tallies stored notifications of one type for a user
func (f *fakeStore) notificationCount(userID, eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.notifications[userID] {
		if n.Type == eventType {
			count++
		}
	}
	return count
}
