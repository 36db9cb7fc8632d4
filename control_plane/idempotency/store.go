package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a recorded response is replayed.
const DefaultTTL = time.Hour

type Response struct {
	StatusCode int                 `json:"status_code"`
	Body       []byte              `json:"body"`
	Headers    map[string][]string `json:"headers"`
}

// Store remembers responses by client-supplied key. With a Redis client the
// cache is shared by every replica; otherwise it lives in process memory.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
	cache sync.Map
	now   func() time.Time
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewStore(client *redis.Client) *Store {
	return &Store{redis: client, ttl: DefaultTTL, now: time.Now}
}

func redisKey(key string) string {
	return "fleetops:idempotency:" + key
}

func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, redisKey(key)).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Printf("[IDEMPOTENCY] lookup %s failed: %v", key, err)
			}
			return Response{}, false
		}
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Response{}, false
		}
		return resp, true
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if s.now().Sub(e.timestamp) > s.ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (s *Store) Set(ctx context.Context, key string, resp Response) {
	if s.redis != nil {
		raw, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := s.redis.Set(ctx, redisKey(key), raw, s.ttl).Err(); err != nil {
			log.Printf("[IDEMPOTENCY] store %s failed: %v", key, err)
		}
		return
	}
	s.cache.Store(key, entry{
		resp:      resp,
		timestamp: s.now(),
	})
}
