package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

var _ core.PolicyStore = (*RedisStore)(nil)

// RedisStore keeps one hash per provider, keyed by target role.
// HSET replaces a single field atomically, so readers never see a torn policy.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: strings.TrimSuffix(keyPrefix, ":"),
	}
}

func (s *RedisStore) providerKey(provider string) string {
	return s.keyPrefix + ":" + provider
}

func (s *RedisStore) Put(ctx context.Context, p core.TrustPolicy) error {
	if err := validation.ValidatePolicy(p); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.providerKey(p.Provider), p.TargetRole, data).Err(); err != nil {
		return fmt.Errorf("storing policy '%s': %w", p.ID(), err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, provider, targetRole string) (*core.TrustPolicy, error) {
	data, err := s.client.HGet(ctx, s.providerKey(provider), targetRole).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}
	var p core.TrustPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) List(ctx context.Context, provider string) ([]core.TrustPolicy, error) {
	values, err := s.client.HVals(ctx, s.providerKey(provider)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	out := make([]core.TrustPolicy, 0, len(values))
	for _, v := range values {
		var p core.TrustPolicy
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decoding policy: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) All(ctx context.Context) ([]core.TrustPolicy, error) {
	var out []core.TrustPolicy
	iter := s.client.Scan(ctx, 0, s.keyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		provider := strings.TrimPrefix(iter.Val(), s.keyPrefix+":")
		policies, err := s.List(ctx, provider)
		if err != nil {
			return nil, err
		}
		out = append(out, policies...)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning policy keys: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
