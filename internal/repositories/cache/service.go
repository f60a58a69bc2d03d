package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradepost/internal/models"

	"github.com/redis/go-redis/v9"
)

type CacheService struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewCacheService(client redis.Cmdable, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Transaction view caching. Entries are dropped on every committed
// transition, the TTL only bounds staleness if an invalidation is lost.
func (s *CacheService) CacheTransactionView(ctx context.Context, view *models.TransactionPartyView) error {
	if view == nil {
		return errors.New("cannot cache nil transaction view")
	}
	return s.Set(ctx, s.GenerateKey("transaction", "id", view.ID), view)
}

// GetTransactionView returns nil, nil on a miss.
func (s *CacheService) GetTransactionView(ctx context.Context, id string) (*models.TransactionPartyView, error) {
	var view models.TransactionPartyView
	found, err := s.Get(ctx, s.GenerateKey("transaction", "id", id), &view)
	if err != nil || !found {
		return nil, err
	}
	return &view, nil
}

func (s *CacheService) InvalidateTransaction(ctx context.Context, id string) error {
	return s.Delete(ctx, s.GenerateKey("transaction", "id", id))
}

func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}
