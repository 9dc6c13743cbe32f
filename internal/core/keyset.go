package core

import "time"

// SigningKeySet is an immutable snapshot of the keys published by one issuer.
// A new snapshot replaces the old one as a whole, it is never modified in place.
type SigningKeySet struct {
	Issuer string
	Keys   map[string]any

	FetchedAt time.Time

	// RefreshAfter marks the snapshot as stale. Stale keys are still served
	// while a refresh runs in the background.
	RefreshAfter time.Time

	// ExpiresAt is the point after which the keys must not be used anymore.
	ExpiresAt time.Time
}

// Lookup returns the key for the given kid. A token without kid is accepted
// only if the issuer publishes exactly one key.
func (s *SigningKeySet) Lookup(kid string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if kid == "" && len(s.Keys) == 1 {
		for _, k := range s.Keys {
			return k, true
		}
	}
	k, ok := s.Keys[kid]
	return k, ok
}

func (s *SigningKeySet) Stale(now time.Time) bool {
	return s == nil || !now.Before(s.RefreshAfter)
}

func (s *SigningKeySet) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}
