package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
)

const (
	adminRole = "admin"

	// AdminTokenIssuer is the issuer of admin session tokens.
	AdminTokenIssuer = "keyless-kingdom/admin"
)

// AdminClaims are the claims of an admin session token.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewAdminToken signs an admin session token for subject, valid for ttl.
func NewAdminToken(signingKey []byte, subject string, ttl time.Duration) (string, time.Time, error) {
	if len(signingKey) == 0 {
		return "", time.Time{}, fmt.Errorf("empty admin key")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := AdminClaims{
		Roles: []string{adminRole},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    AdminTokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// AdminAuth only lets requests through that carry an admin session token
// signed with signingKey.
func AdminAuth(signingKey []byte) func(handler http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(AdminTokenIssuer),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if tokenStr == "" {
				presenter.Error(w, r, "login required", http.StatusUnauthorized)
				return
			}

			var claims AdminClaims
			token, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				log.Ctx(r.Context()).Warn().Err(err).Msg("rejected admin session token")
				presenter.Error(w, r, presenter.InvalidSessionMessage, http.StatusUnauthorized)
				return
			}

			if !slices.Contains(claims.Roles, adminRole) {
				presenter.Error(w, r, "insufficient privileges", http.StatusForbidden)
				return
			}

			l := log.Ctx(r.Context()).With().Str("admin", claims.Subject).Logger()
			next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
		})
	}
}
