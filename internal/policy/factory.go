package policy

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/store"
)

// OpenStore creates the policy store backend selected in the config.
func OpenStore(ctx context.Context, cfg config.PolicyStoreConfig) (core.PolicyStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore()
	case "sqlite":
		db, err := store.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db, true), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
		}
		return NewRedisStore(client, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown policy store type '%s'", cfg.Type)
	}
}

// Seed puts the given policies into the store and warns about overlapping ones.
func Seed(ctx context.Context, s core.PolicyStore, policies []core.TrustPolicy) error {
	for _, p := range policies {
		if err := s.Put(ctx, p); err != nil {
			return fmt.Errorf("storing policy '%s': %w", p.ID(), err)
		}
	}

	all, err := s.All(ctx)
	if err != nil {
		return fmt.Errorf("listing policies: %w", err)
	}
	for _, c := range Lint(all) {
		log.Ctx(ctx).Warn().Str("a", c.A.ID()).Str("b", c.B.ID()).
			Msgf("ambiguous trust policies: %s", c)
	}
	log.Ctx(ctx).Info().Int("policies", len(all)).Msg("policy store ready")
	return nil
}
