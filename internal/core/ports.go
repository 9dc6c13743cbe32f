package core

import "context"

// Verifier checks an inbound identity token and returns its claims.
// Errors wrap one of the verification sentinels (ErrUnknownIssuer, ErrKeyNotFound, ...).
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// KeySource returns the current public signing keys of one issuer, keyed by key id.
// Transport and document format are up to the implementation.
type KeySource interface {
	FetchKeys(ctx context.Context) (map[string]any, error)
}
