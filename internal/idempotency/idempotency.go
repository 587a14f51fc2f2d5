// Package idempotency replays stored responses for repeated requests that
// carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
)

var ErrInProgress = errors.New("request with this idempotency key is in progress")

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	redis Store
	ttl   time.Duration
}

func NewIdempotency(redis Store, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Begin returns the stored response for key, if any. Otherwise it claims the
// key and returns nil; the caller must then call Set or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		stored, err := i.redis.Get(ctx, key)
		if errors.Is(err, redisadapter.ErrInFlight) {
			return nil, ErrInProgress
		}
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
		}

		locked, err := i.redis.Lock(ctx, key, i.ttl)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, nil
		}
		// lost the race, read what the winner left
	}
	return nil, ErrInProgress
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Abort releases a claimed key so the request can be retried.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.redis.Unlock(ctx, key)
}
