package policy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

var _ core.PolicyStore = (*MemoryStore)(nil)

// policySet maps provider -> target role -> policy. A published set is never mutated.
type policySet map[string]map[string]core.TrustPolicy

// MemoryStore keeps policies in an immutable snapshot that is swapped on every Put.
// Readers never lock.
type MemoryStore struct {
	current atomic.Pointer[policySet]
	mu      sync.Mutex
}

func NewMemoryStore(initial ...core.TrustPolicy) (*MemoryStore, error) {
	s := &MemoryStore{}
	empty := make(policySet)
	s.current.Store(&empty)
	for _, p := range initial {
		if err := s.Put(context.Background(), p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Put(_ context.Context, policy core.TrustPolicy) error {
	if err := validation.ValidatePolicy(policy); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.current.Load()
	next := make(policySet, len(old)+1)
	for provider, roles := range old {
		next[provider] = roles
	}

	// only the touched provider's role map needs a fresh copy
	roles := make(map[string]core.TrustPolicy, len(old[policy.Provider])+1)
	for role, p := range old[policy.Provider] {
		roles[role] = p
	}
	roles[policy.TargetRole] = policy
	next[policy.Provider] = roles

	s.current.Store(&next)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, provider, targetRole string) (*core.TrustPolicy, error) {
	set := *s.current.Load()
	p, ok := set[provider][targetRole]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) List(_ context.Context, provider string) ([]core.TrustPolicy, error) {
	set := *s.current.Load()
	roles := set[provider]
	out := make([]core.TrustPolicy, 0, len(roles))
	for _, p := range roles {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) All(_ context.Context) ([]core.TrustPolicy, error) {
	set := *s.current.Load()
	var out []core.TrustPolicy
	for _, roles := range set {
		for _, p := range roles {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
