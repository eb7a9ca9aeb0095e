package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetScanner returns (nil, nil) on a cache miss; callers fall back to the
// scanners table.
func (c *Cache) GetScanner(ctx context.Context, username string) (*domain.Scanner, error) {
	val, err := c.client.Get(ctx, "scanner:"+username).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Scanner
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Cache) SetScanner(ctx context.Context, s domain.Scanner, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "scanner:"+s.Username, data, ttl).Err()
}
