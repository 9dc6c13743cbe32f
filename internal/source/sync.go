package source

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

// PolicyWriter stores a single policy, validating it against the providers.
type PolicyWriter interface {
	PutPolicy(ctx context.Context, p core.TrustPolicy) (*service.PutPolicyResponse, error)
}

// Result summarizes a sync run.
type Result struct {
	Fetched  int
	Stored   int
	Warnings []string
}

// Sync fetches all policies and writes them to the store. Every fetched policy
// is validated before the first write, so a broken file leaves the store untouched.
// Policies removed from the source are kept in the store.
func Sync(ctx context.Context, fetcher Fetcher, writer PolicyWriter, logger logging.InternalLogger) (*Result, error) {
	policies, err := fetcher.Fetch(ctx, logger)
	if err != nil {
		return nil, err
	}

	index := make(map[core.PolicyKey]int, len(policies))
	var deduped []core.TrustPolicy
	for i, p := range policies {
		if err := validation.ValidatePolicy(p); err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i, err)
		}
		if at, dup := index[p.Key()]; dup {
			logger.Warn("policy '%s' is defined more than once, using the last definition", p.ID())
			deduped[at] = p
			continue
		}
		index[p.Key()] = len(deduped)
		deduped = append(deduped, p)
	}

	res := &Result{Fetched: len(policies)}
	for _, p := range deduped {
		resp, err := writer.PutPolicy(ctx, p)
		if err != nil {
			return res, fmt.Errorf("storing policy '%s': %w", p.ID(), err)
		}
		res.Stored++
		for _, w := range resp.Warnings {
			logger.Warn("%s", w)
			res.Warnings = append(res.Warnings, w)
		}
	}

	logger.Info("synced %d policies (%d warnings)", res.Stored, len(res.Warnings))
	return res, nil
}

// RegisterTask registers the sync as a task running every interval.
func RegisterTask(m *tasks.Manager, interval time.Duration, fetcher Fetcher, writer PolicyWriter) {
	m.Register(SyncTaskName, interval, func(ctx context.Context, logger logging.InternalLogger) error {
		_, err := Sync(ctx, fetcher, writer, logger)
		return err
	})
}
