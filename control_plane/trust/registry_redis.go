package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/redis/go-redis/v9"
)

const (
	whitelistKey = "fleetops:trust:whitelist"
	blacklistKey = "fleetops:trust:blacklist"
	profilesKey  = "fleetops:trust:profiles"
)

// RedisRegistry stores both lists as Redis sets and profiles as JSON in a
// hash, so they survive restarts and are shared by every control-plane replica.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func observe(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

func (r *RedisRegistry) IsWhitelisted(ctx context.Context, sourceSystem string) (bool, error) {
	defer observe(time.Now())
	return r.client.SIsMember(ctx, whitelistKey, sourceSystem).Result()
}

func (r *RedisRegistry) IsBlacklisted(ctx context.Context, sourceSystem string) (bool, error) {
	defer observe(time.Now())
	return r.client.SIsMember(ctx, blacklistKey, sourceSystem).Result()
}

func (r *RedisRegistry) AddToWhitelist(ctx context.Context, sourceSystem string) error {
	defer observe(time.Now())
	return r.client.SAdd(ctx, whitelistKey, sourceSystem).Err()
}

func (r *RedisRegistry) RemoveFromWhitelist(ctx context.Context, sourceSystem string) error {
	defer observe(time.Now())
	return r.client.SRem(ctx, whitelistKey, sourceSystem).Err()
}

func (r *RedisRegistry) AddToBlacklist(ctx context.Context, sourceSystem string) error {
	defer observe(time.Now())
	return r.client.SAdd(ctx, blacklistKey, sourceSystem).Err()
}

func (r *RedisRegistry) RemoveFromBlacklist(ctx context.Context, sourceSystem string) error {
	defer observe(time.Now())
	return r.client.SRem(ctx, blacklistKey, sourceSystem).Err()
}

func (r *RedisRegistry) Lists(ctx context.Context) (Lists, error) {
	defer observe(time.Now())

	pipe := r.client.Pipeline()
	white := pipe.SMembers(ctx, whitelistKey)
	black := pipe.SMembers(ctx, blacklistKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Lists{}, err
	}

	lists := Lists{Whitelist: white.Val(), Blacklist: black.Val()}
	sort.Strings(lists.Whitelist)
	sort.Strings(lists.Blacklist)
	return lists, nil
}

func (r *RedisRegistry) SetProfile(ctx context.Context, cfg SourceConfig) error {
	defer observe(time.Now())
	data, err := json.Marshal(cfg.profile())
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, profilesKey, cfg.SourceSystem, data).Err()
}

func (r *RedisRegistry) Profile(ctx context.Context, sourceSystem string) (*SourceConfig, error) {
	defer observe(time.Now())
	data, err := r.client.HGet(ctx, profilesKey, sourceSystem).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg SourceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", sourceSystem, err)
	}
	return &cfg, nil
}
