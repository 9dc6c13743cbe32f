package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityToken is an inbound token that has been split into its parts but
// not verified yet. Nothing in here may be trusted before the Verifier is done.
type IdentityToken struct {
	// Raw is the compact serialized token as presented by the caller.
	Raw string

	// Issuer is the unverified 'iss' claim, used to select the issuer config.
	Issuer string

	// KeyID is the 'kid' header used to select the signing key.
	KeyID string

	// Algorithm is the 'alg' header.
	Algorithm string

	Signature []byte
	Payload   []byte

	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  []string
}

// ParseIdentityToken splits a compact JWT into an IdentityToken without verifying it.
func ParseIdentityToken(raw string) (*IdentityToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	token, parts, err := parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %w", ErrMalformedToken, err)
	}
	signature, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature: %w", ErrMalformedToken, err)
	}

	it := &IdentityToken{
		Raw:       raw,
		Algorithm: token.Method.Alg(),
		Signature: signature,
		Payload:   payload,
	}
	if kid, ok := token.Header["kid"].(string); ok {
		it.KeyID = kid
	}

	if it.Issuer, err = claims.GetIssuer(); err != nil {
		return nil, fmt.Errorf("%w: 'iss' claim: %w", ErrMalformedToken, err)
	}
	if it.Issuer == "" {
		return nil, fmt.Errorf("%w: token missing 'iss' claim", ErrMalformedToken)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: 'exp' claim: %w", ErrMalformedToken, err)
	}
	if exp != nil {
		it.ExpiresAt = exp.Time
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: 'iat' claim: %w", ErrMalformedToken, err)
	}
	if iat != nil {
		it.IssuedAt = iat.Time
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%w: 'aud' claim: %w", ErrMalformedToken, err)
	}
	it.Audience = aud

	return it, nil
}
