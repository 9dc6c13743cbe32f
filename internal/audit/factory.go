package audit

import (
	"context"
	"fmt"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/store"
)

// Open creates the audit log selected in the config.
func Open(ctx context.Context, cfg config.AuditConfig) (core.AuditLog, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryLog(), nil
	case "file":
		return NewFileLog(cfg.Path)
	case "sqlite":
		db, err := store.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteLog(db, true), nil
	default:
		return nil, fmt.Errorf("unknown audit type '%s'", cfg.Type)
	}
}

// Collect drains a query into a slice.
func Collect(ctx context.Context, log core.AuditLog, filter core.AuditFilter) ([]core.FederationDecision, error) {
	var out []core.FederationDecision
	for d, err := range log.Query(ctx, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
