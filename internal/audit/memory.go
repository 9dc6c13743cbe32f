package audit

import (
	"context"
	"iter"
	"sync"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

var _ core.AuditLog = (*MemoryLog)(nil)

// MemoryLog keeps decisions in memory. Nothing survives a restart, it is
// meant for tests and local runs.
type MemoryLog struct {
	mu        sync.RWMutex
	decisions []core.FederationDecision
	ids       map[string]struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		decisions: make([]core.FederationDecision, 0),
		ids:       make(map[string]struct{}),
	}
}

func (m *MemoryLog) Append(_ context.Context, d core.FederationDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[d.ID]; ok {
		return nil
	}
	m.ids[d.ID] = struct{}{}
	m.decisions = append(m.decisions, d)
	return nil
}

// Query iterates over a snapshot of the decisions taken when iteration starts.
func (m *MemoryLog) Query(ctx context.Context, filter core.AuditFilter) iter.Seq2[core.FederationDecision, error] {
	return func(yield func(core.FederationDecision, error) bool) {
		m.mu.RLock()
		snapshot := m.decisions[:len(m.decisions):len(m.decisions)]
		m.mu.RUnlock()

		n := 0
		for _, d := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(core.FederationDecision{}, err)
				return
			}
			if !filter.Matches(d) {
				continue
			}
			if !yield(d, nil) {
				return
			}
			n++
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
		}
	}
}

// Len returns the number of recorded decisions.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.decisions)
}

func (m *MemoryLog) Close() error {
	return nil // nothing to close :)
}
