package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Client wraps the Redis connection used for the advisory price cache,
// the per-auction advisory lock, and the key-value storage backend.
type Client struct {
	rdb *redis.Client
}

// PriceSnapshot is the cached fast-path view of an auction. It is
// advisory only: the authoritative store re-validates every decision at
// commit time.
type PriceSnapshot struct {
	CurrentPrice decimal.Decimal
	BidIncrement decimal.Decimal
	EndsAt       time.Time
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cacheKey(auctionID string) string {
	return fmt.Sprintf("pricecache:%s", auctionID)
}

// SeedPriceCache writes the advisory snapshot for an auction
func (c *Client) SeedPriceCache(ctx context.Context, auctionID string, snap PriceSnapshot) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, cacheKey(auctionID), "current_price", snap.CurrentPrice.String())
	pipe.HSet(ctx, cacheKey(auctionID), "bid_increment", snap.BidIncrement.String())
	pipe.HSet(ctx, cacheKey(auctionID), "ends_at", snap.EndsAt.UTC().Format(time.RFC3339Nano))

	_, err := pipe.Exec(ctx)
	return err
}

// GetPriceSnapshot reads the advisory snapshot; a nil snapshot with nil
// error means the cache has no entry for this auction.
func (c *Client) GetPriceSnapshot(ctx context.Context, auctionID string) (*PriceSnapshot, error) {
	result, err := c.rdb.HGetAll(ctx, cacheKey(auctionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	price, err := decimal.NewFromString(result["current_price"])
	if err != nil {
		return nil, fmt.Errorf("corrupt cached price: %w", err)
	}
	increment, err := decimal.NewFromString(result["bid_increment"])
	if err != nil {
		return nil, fmt.Errorf("corrupt cached increment: %w", err)
	}
	endsAt, err := time.Parse(time.RFC3339Nano, result["ends_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt cached ends_at: %w", err)
	}

	return &PriceSnapshot{
		CurrentPrice: price,
		BidIncrement: increment,
		EndsAt:       endsAt,
	}, nil
}

// InvalidatePriceCache drops the snapshot for an auction
func (c *Client) InvalidatePriceCache(ctx context.Context, auctionID string) error {
	return c.rdb.Del(ctx, cacheKey(auctionID)).Err()
}

// AcquireLock acquires the per-auction advisory lock. The TTL guarantees
// a crashed holder cannot wedge the auction.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases the advisory lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
