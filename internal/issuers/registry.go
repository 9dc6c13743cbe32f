package issuers

import (
	"fmt"
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// BuildRegistry creates a key source per configured issuer, keyed by issuer name.
func BuildRegistry(cfgs []config.IssuerConfig, client *http.Client) (map[string]core.KeySource, error) {
	registry := make(map[string]core.KeySource)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "static":
			src, err := NewStatic(cfg)
			if err != nil {
				return nil, fmt.Errorf("building static issuer %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = src
		case "oidc":
			registry[cfg.Name] = NewOIDCSource(cfg.IssuerURL, client)
		case "jwks":
			registry[cfg.Name] = NewJWKSSource(cfg.JWKSURL, client)
		default:
			return nil, fmt.Errorf("unknown issuer type %q for issuer %q", cfg.Type, cfg.Name)
		}
	}
	return registry, nil
}
