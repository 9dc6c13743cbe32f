// Package oidctest runs a fake OIDC issuer for tests. It publishes a discovery
// document and a JWK set over httptest and signs tokens with its keys.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

type Issuer struct {
	Server *httptest.Server

	mu        sync.Mutex
	keys      map[string]*rsa.PrivateKey
	published []string
	current   string

	fetches atomic.Int32
	failing atomic.Bool
}

// NewIssuer starts an issuer publishing a single key with id "key-1".
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	i := &Issuer{keys: make(map[string]*rsa.PrivateKey)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                i.URL(),
			"jwks_uri":                              i.JWKSURL(),
			"authorization_endpoint":                i.URL() + "/authorize",
			"token_endpoint":                        i.URL() + "/token",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, _ *http.Request) {
		i.fetches.Add(1)
		if i.failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(i.JWKS(t))
	})

	i.Server = httptest.NewServer(mux)
	t.Cleanup(i.Server.Close)

	i.AddKey(t, "key-1")
	return i
}

func (i *Issuer) URL() string {
	return i.Server.URL
}

func (i *Issuer) JWKSURL() string {
	return i.Server.URL + "/jwks"
}

// AddKey generates a new key, publishes it and makes it the signing key.
func (i *Issuer) AddKey(t testing.TB, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[kid] = key
	i.published = append(i.published, kid)
	i.current = kid
}

// AddUnpublishedKey generates a signing key that is never served in the JWK set.
func (i *Issuer) AddUnpublishedKey(t testing.TB, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[kid] = key
}

// SetFailing makes the JWK endpoint answer with 503.
func (i *Issuer) SetFailing(failing bool) {
	i.failing.Store(failing)
}

// Fetches returns how often the JWK set was requested.
func (i *Issuer) Fetches() int {
	return int(i.fetches.Load())
}

// JWKS renders the published keys as a JWK set document.
func (i *Issuer) JWKS(t testing.TB) []byte {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()

	set := jwk.NewSet()
	for _, kid := range i.published {
		key, err := jwk.Import(&i.keys[kid].PublicKey)
		if err != nil {
			t.Errorf("importing public key: %v", err)
			return nil
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			t.Errorf("setting key id: %v", err)
			return nil
		}
		if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
			t.Errorf("setting algorithm: %v", err)
			return nil
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			t.Errorf("setting key usage: %v", err)
			return nil
		}
		if err := set.AddKey(key); err != nil {
			t.Errorf("adding key to set: %v", err)
			return nil
		}
	}

	buf, err := json.Marshal(set)
	if err != nil {
		t.Errorf("marshaling key set: %v", err)
		return nil
	}
	return buf
}

// Sign signs the claims with the current key.
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	kid := i.current
	i.mu.Unlock()
	return i.SignWith(t, kid, claims)
}

// SignWith signs the claims with the key of the given id.
func (i *Issuer) SignWith(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	key, ok := i.keys[kid]
	i.mu.Unlock()
	if !ok {
		t.Fatalf("unknown key id %q", kid)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// Claims returns a valid claim set for the issuer, issued at now and valid for ten minutes.
func (i *Issuer) Claims(sub, aud string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": i.URL(),
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
}
