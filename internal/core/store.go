package core

import "context"

// PolicyStore holds trust policies keyed by (provider, target role).
type PolicyStore interface {
	// Put inserts the policy or atomically replaces the one with the same key.
	Put(ctx context.Context, policy TrustPolicy) error

	// Get returns the policy for the key, or nil if there is none.
	Get(ctx context.Context, provider, targetRole string) (*TrustPolicy, error)

	// List returns all policies of a provider in no particular order.
	List(ctx context.Context, provider string) ([]TrustPolicy, error)

	// All returns every stored policy in no particular order.
	All(ctx context.Context) ([]TrustPolicy, error)

	Close() error
}
