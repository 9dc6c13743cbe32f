// Package source loads trust policies from outside the broker config and
// syncs them into the policy store.
package source

import (
	"context"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

// SyncTaskName is the task that runs Sync with the configured fetcher.
const SyncTaskName = "policies.sync"

type Fetcher interface {
	Fetch(ctx context.Context, log logging.InternalLogger) ([]core.TrustPolicy, error)
}

// policyFile is the layout of a single policy file.
type policyFile struct {
	Policies []core.TrustPolicy `yaml:"policies"`
}
