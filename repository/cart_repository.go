package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-service/cart"
	"pos-service/models"

	"github.com/redis/go-redis/v9"
)

// ErrCartConflict is returned when a session cart kept changing under a
// write and the retry budget ran out.
var ErrCartConflict = errors.New("cart modified concurrently")

const maxCartRetries = 5

// CartRepository stores one cart per cashier session.
type CartRepository interface {
	Get(ctx context.Context, sessionID string) (*models.Cart, error)
	Update(ctx context.Context, sessionID string, fn func(l *cart.Ledger) error) (*models.Cart, error)
	Delete(ctx context.Context, sessionID string) error
}

type RedisCartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartRepository(client *redis.Client, ttl time.Duration) *RedisCartRepository {
	return &RedisCartRepository{client: client, ttl: ttl}
}

func (r *RedisCartRepository) getKey(sessionID string) string {
	return fmt.Sprintf("cart:session:%s", sessionID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisCartRepository) load(ctx context.Context, g stringGetter, sessionID string) (*models.Cart, error) {
	data, err := g.Get(ctx, r.getKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return &models.Cart{SessionID: sessionID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var c models.Cart
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	c.SessionID = sessionID
	return &c, nil
}

// Get returns the session's cart. A missing cart is returned empty.
func (r *RedisCartRepository) Get(ctx context.Context, sessionID string) (*models.Cart, error) {
	return r.load(ctx, r.client, sessionID)
}

// Update applies fn to the session's ledger under WATCH so concurrent
// requests from the same session cannot lose each other's changes. An empty
// result deletes the key.
func (r *RedisCartRepository) Update(ctx context.Context, sessionID string, fn func(l *cart.Ledger) error) (*models.Cart, error) {
	key := r.getKey(sessionID)
	var result *models.Cart

	txf := func(tx *redis.Tx) error {
		c, err := r.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		ledger := cart.NewLedger(c.Items)
		if err := fn(ledger); err != nil {
			return err
		}
		c.Items = ledger.Items()
		c.UpdatedAt = time.Now()

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(c.Items) == 0 {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, data, r.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = c
		return nil
	}

	for i := 0; i < maxCartRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrCartConflict
}

func (r *RedisCartRepository) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.getKey(sessionID)).Err()
}
