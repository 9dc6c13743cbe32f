package issuers

import (
	"context"
	"fmt"
	"os"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var _ core.KeySource = (*StaticSource)(nil)

// StaticSource serves a fixed key set from the config or a file on disk.
// The file is read again on every fetch so keys can be rotated without a restart.
type StaticSource struct {
	name   string
	inline []byte
	file   string
}

func NewStatic(cfg config.IssuerConfig) (*StaticSource, error) {
	s := &StaticSource{name: cfg.Name, file: cfg.JWKSFile}
	if cfg.JWKS != "" {
		s.inline = []byte(cfg.JWKS)
		// fail early on broken inline documents
		if _, err := ParseJWKS(s.inline); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *StaticSource) FetchKeys(_ context.Context) (map[string]any, error) {
	if s.inline != nil {
		return ParseJWKS(s.inline)
	}
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil, fmt.Errorf("reading jwks file for issuer '%s': %w", s.name, err)
	}
	return ParseJWKS(data)
}
