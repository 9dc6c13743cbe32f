package providers

import (
	"context"
	"fmt"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/aws"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/azure"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/gcp"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/github"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/stub"
)

// BuildRegistry creates a provider adapter per configured provider, keyed by name.
func BuildRegistry(ctx context.Context, cfgs []config.ProviderConfig) (map[string]core.CredentialIssuer, error) {
	registry := make(map[string]core.CredentialIssuer)
	for _, cfg := range cfgs {
		var (
			prov core.CredentialIssuer
			err  error
		)
		switch cfg.Type {
		case stub.Type:
			prov, err = stub.NewFromConfig(cfg)
		case aws.Type:
			prov, err = aws.NewFromConfig(ctx, cfg)
		case azure.Type:
			prov, err = azure.NewFromConfig(cfg)
		case gcp.Type:
			prov, err = gcp.NewFromConfig(cfg)
		case github.Type:
			prov, err = github.NewFromConfig(cfg)
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, cfg.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("building %s provider %q: %w", cfg.Type, cfg.Name, err)
		}
		registry[cfg.Name] = prov
	}
	return registry, nil
}

// ValidateRoles checks the target role of every policy against its provider,
// for providers that know their role format.
func ValidateRoles(registry map[string]core.CredentialIssuer, policies []core.TrustPolicy) error {
	for _, p := range policies {
		prov, ok := registry[p.Provider]
		if !ok {
			return fmt.Errorf("policy '%s': %w '%s'", p.ID(), core.ErrUnknownProvider, p.Provider)
		}
		if v, ok := prov.(core.RoleValidator); ok {
			if err := v.ValidateRole(p.TargetRole); err != nil {
				return fmt.Errorf("policy '%s': %w", p.ID(), err)
			}
		}
	}
	return nil
}
