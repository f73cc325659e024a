package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/claerdex/trading-engine/internal/model"
)

// RedisStore implements Store on a Redis key-value backend. Accounts are
// JSON blobs keyed by address; recorded price history lives in a list per
// asset/interval, trimmed to the retention cap on every append.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func accountKey(address string) string {
	return fmt.Sprintf("account:%s", address)
}

func priceHistoryKey(asset, interval string) string {
	return fmt.Sprintf("price_history:%s:%s", asset, interval)
}

func (s *RedisStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get account %s: %w", address, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}

	var a model.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	return &a, nil
}

func (s *RedisStore) SaveAccount(ctx context.Context, account *model.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.Address, err)
	}
	if err := s.rdb.Set(ctx, accountKey(account.Address), data, 0).Err(); err != nil {
		return fmt.Errorf("save account %s: %w", account.Address, err)
	}
	return nil
}

func (s *RedisStore) DeleteAccount(ctx context.Context, address string) error {
	if err := s.rdb.Del(ctx, accountKey(address)).Err(); err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	return nil
}

func (s *RedisStore) AppendPricePoint(ctx context.Context, asset, interval string, point model.OHLCPoint, keep int) error {
	data, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("encode price point: %w", err)
	}

	key := priceHistoryKey(asset, interval)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if keep > 0 {
		pipe.LTrim(ctx, key, int64(-keep), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append price point %s/%s: %w", asset, interval, err)
	}
	return nil
}

func (s *RedisStore) PriceHistory(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error) {
	key := priceHistoryKey(asset, interval)
	raw, err := s.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("price history %s/%s: %w", asset, interval, err)
	}

	points := make([]model.OHLCPoint, 0, len(raw))
	for _, item := range raw {
		var p model.OHLCPoint
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			continue // skip malformed entries rather than failing the read
		}
		points = append(points, p)
	}
	return points, nil
}
