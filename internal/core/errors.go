package core

import (
	"errors"
	"fmt"
)

// Reason is the structured cause recorded on a DENY decision.
type Reason string

const (
	ReasonNone Reason = ""

	// verification failures
	ReasonUnknownIssuer    Reason = "UnknownIssuer"
	ReasonKeyNotFound      Reason = "KeyNotFound"
	ReasonSignatureInvalid Reason = "SignatureInvalid"
	ReasonTokenExpired     Reason = "TokenExpired"
	ReasonTokenNotYetValid Reason = "TokenNotYetValid"
	ReasonAudienceMismatch Reason = "AudienceMismatch"
	ReasonMalformedToken   Reason = "MalformedToken"

	// matching failures
	ReasonNoMatchingPolicy Reason = "NoMatchingPolicy"
	ReasonAmbiguousPolicy  Reason = "AmbiguousPolicy"

	ReasonUnknownProvider Reason = "UnknownProvider"
	ReasonProviderError   Reason = "ProviderError"
)

var (
	ErrUnknownIssuer    = fmt.Errorf("unknown issuer")
	ErrKeyNotFound      = fmt.Errorf("signing key not found")
	ErrSignatureInvalid = fmt.Errorf("signature invalid")
	ErrTokenExpired     = fmt.Errorf("token expired")
	ErrTokenNotYetValid = fmt.Errorf("token not yet valid")
	ErrAudienceMismatch = fmt.Errorf("audience mismatch")
	ErrMalformedToken   = fmt.Errorf("malformed token")

	ErrNoMatchingPolicy = fmt.Errorf("no matching trust policy")
	ErrAmbiguousPolicy  = fmt.Errorf("ambiguous trust policies")

	ErrUnknownProvider = fmt.Errorf("unknown provider")
	ErrProviderError   = fmt.Errorf("provider error")

	// ErrProviderDenied marks an adapter error as an authorization denial by the
	// cloud provider. Such errors are never retried.
	ErrProviderDenied = fmt.Errorf("provider denied the request")

	// ErrAuditWriteFailed is returned when a decision could not be recorded durably.
	// No decision is returned to the caller in that case.
	ErrAuditWriteFailed = fmt.Errorf("audit write failed")
)

var reasonBySentinel = []struct {
	err    error
	reason Reason
}{
	{ErrUnknownIssuer, ReasonUnknownIssuer},
	{ErrKeyNotFound, ReasonKeyNotFound},
	{ErrSignatureInvalid, ReasonSignatureInvalid},
	{ErrTokenExpired, ReasonTokenExpired},
	{ErrTokenNotYetValid, ReasonTokenNotYetValid},
	{ErrAudienceMismatch, ReasonAudienceMismatch},
	{ErrMalformedToken, ReasonMalformedToken},
	{ErrNoMatchingPolicy, ReasonNoMatchingPolicy},
	{ErrAmbiguousPolicy, ReasonAmbiguousPolicy},
	{ErrUnknownProvider, ReasonUnknownProvider},
	{ErrProviderError, ReasonProviderError},
	{ErrProviderDenied, ReasonProviderError},
}

// ReasonOf maps an error to the denial reason of the first sentinel it wraps.
// It returns ReasonNone for errors that do not carry a known sentinel.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasonBySentinel {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonNone
}

// IsVerificationFailure reports whether the reason was produced by the token verifier.
func (r Reason) IsVerificationFailure() bool {
	switch r {
	case ReasonUnknownIssuer, ReasonKeyNotFound, ReasonSignatureInvalid,
		ReasonTokenExpired, ReasonTokenNotYetValid, ReasonAudienceMismatch, ReasonMalformedToken:
		return true
	default:
		return false
	}
}
