package verifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/issuers"
	"github.com/MikeDominic92/keyless-kingdom/internal/oidctest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(iss *oidctest.Issuer, typ string) *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{
			Audience:  "keyless-kingdom",
			ClockSkew: time.Minute,
		},
		Issuers: []config.IssuerConfig{{
			Name:               "ci",
			Type:               typ,
			IssuerURL:          iss.URL(),
			JWKSURL:            iss.JWKSURL(),
			Algorithms:         []string{"RS256"},
			RefreshInterval:    time.Hour,
			MaxKeyAge:          24 * time.Hour,
			MinRefreshInterval: 30 * time.Second,
			RefreshTimeout:     5 * time.Second,
		}},
	}
}

func newTestVerifier(t *testing.T, cfg *config.Config, clock *fakeClock) *Verifier {
	t.Helper()
	sources, err := issuers.BuildRegistry(cfg.Issuers, nil)
	require.NoError(t, err)
	v, err := New(cfg, sources, WithClock(clock.Now))
	require.NoError(t, err)
	return v
}

func TestVerifier_Verify(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)
	now := clock.Now()

	valid := func() jwt.MapClaims {
		c := iss.Claims("repo:acme/core:ref:refs/heads/main", "keyless-kingdom", now)
		c["repository"] = "acme/core"
		return c
	}
	with := func(key string, value any) jwt.MapClaims {
		c := valid()
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", iss.Sign(t, valid()), nil},
		{"audience list", iss.Sign(t, with("aud", []string{"other", "keyless-kingdom"})), nil},
		{"expired", iss.Sign(t, with("exp", now.Add(-time.Second).Unix())), core.ErrTokenExpired},
		{"issued in the future", iss.Sign(t, with("iat", now.Add(5*time.Minute).Unix())), core.ErrTokenNotYetValid},
		{"issued in the future within skew", iss.Sign(t, with("iat", now.Add(30*time.Second).Unix())), nil},
		{"not before in the future", iss.Sign(t, with("nbf", now.Add(5*time.Minute).Unix())), core.ErrTokenNotYetValid},
		{"wrong audience", iss.Sign(t, with("aud", "sts.amazonaws.com")), core.ErrAudienceMismatch},
		{"missing audience", iss.Sign(t, with("aud", nil)), core.ErrMalformedToken},
		{"missing subject", iss.Sign(t, with("sub", nil)), core.ErrMalformedToken},
		{"missing expiry", iss.Sign(t, with("exp", nil)), core.ErrMalformedToken},
		{"subject not a string", iss.Sign(t, with("sub", 42)), core.ErrMalformedToken},
		{"unknown issuer", iss.Sign(t, with("iss", "https://evil.example.com")), core.ErrUnknownIssuer},
		{"garbage", "not-a-token", core.ErrMalformedToken},
		{"empty", "", core.ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "repo:acme/core:ref:refs/heads/main", claims.Subject())
			assert.Equal(t, "acme/core", claims.String("repository"))
		})
	}
}

func TestVerifier_SignatureInvalid(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)

	a := iss.Sign(t, iss.Claims("repo:acme/a", "keyless-kingdom", clock.Now()))
	b := iss.Sign(t, iss.Claims("repo:acme/b", "keyless-kingdom", clock.Now()))

	// payload of a with the signature of b
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	forged := pa[0] + "." + pa[1] + "." + pb[2]

	_, err := v.Verify(context.Background(), forged)
	require.ErrorIs(t, err, core.ErrSignatureInvalid)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, iss.Claims("repo:acme/a", "keyless-kingdom", clock.Now()))
	hmac.Header["kid"] = "key-1"
	signed, err := hmac.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed)
	require.ErrorIs(t, err, core.ErrSignatureInvalid)
}

func TestVerifier_IssuerAudienceOverride(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	cfg := testConfig(iss, "jwks")
	cfg.Issuers[0].Audience = "sts.amazonaws.com"
	v := newTestVerifier(t, cfg, clock)

	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "sts.amazonaws.com", clock.Now())))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.ErrorIs(t, err, core.ErrAudienceMismatch)
}

func TestVerifier_RefreshSurfacesRotatedKey(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)
	v.Warm(context.Background())
	require.Equal(t, 1, iss.Fetches())

	// the cached set is stale and does not know key-2 yet
	clock.Advance(2 * time.Hour)
	iss.AddKey(t, "key-2")

	claims, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:acme/core", "keyless-kingdom", clock.Now())))
	require.NoError(t, err)
	assert.Equal(t, "repo:acme/core", claims.Subject())
	assert.Equal(t, 2, iss.Fetches())

	snap := v.KeySets()["ci"]
	require.NotNil(t, snap)
	assert.Len(t, snap.Keys, 2)
}

func TestVerifier_UnknownKeyAfterRefresh(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)
	v.Warm(context.Background())

	iss.AddUnpublishedKey(t, "rogue")
	clock.Advance(time.Minute)

	_, err := v.Verify(context.Background(), iss.SignWith(t, "rogue", iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.Equal(t, 2, iss.Fetches())

	// unknown kids within the minimum refresh interval do not hit the issuer again
	_, err = v.Verify(context.Background(), iss.SignWith(t, "rogue", iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.Equal(t, 2, iss.Fetches())
}

func TestVerifier_RotationRightAfterRefresh(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)
	v.Warm(context.Background())

	// rotated within the minimum refresh interval of the warm-up fetch
	clock.Advance(5 * time.Second)
	iss.AddKey(t, "key-2")

	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.NoError(t, err)
	assert.Equal(t, 2, iss.Fetches())

	// the early fetch is spent for this interval
	iss.AddUnpublishedKey(t, "rogue")
	_, err = v.Verify(context.Background(), iss.SignWith(t, "rogue", iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.ErrorIs(t, err, core.ErrKeyNotFound)
	assert.Equal(t, 2, iss.Fetches())
}

func TestVerifier_RefreshFailure(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)
	v.Warm(context.Background())

	iss.SetFailing(true)

	t.Run("cached key still served", func(t *testing.T) {
		clock.Advance(2 * time.Hour) // stale but not expired
		_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
		require.NoError(t, err)
	})

	t.Run("unknown key fails", func(t *testing.T) {
		iss.AddKey(t, "key-2")
		clock.Advance(time.Hour)
		_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
		require.ErrorIs(t, err, core.ErrKeyNotFound)
	})

	t.Run("expired key set fails", func(t *testing.T) {
		clock.Advance(48 * time.Hour)
		_, err := v.Verify(context.Background(), iss.SignWith(t, "key-1", iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
		require.ErrorIs(t, err, core.ErrKeyNotFound)
	})
}

func TestVerifier_ConcurrentUnknownKidSingleFetch(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)

	token := iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now()))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Verify(context.Background(), token); err != nil {
				t.Errorf("verify: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, iss.Fetches())
}

func TestVerifier_Discovery(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "oidc"), clock)

	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.NoError(t, err)
}

func TestVerifier_StaticKeys(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	cfg := testConfig(iss, "static")
	cfg.Issuers[0].JWKS = string(iss.JWKS(t))
	v := newTestVerifier(t, cfg, clock)

	_, err := v.Verify(context.Background(), iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.NoError(t, err)
	assert.Equal(t, 0, iss.Fetches())
}

func TestVerifier_CallerCancelDuringRefresh(t *testing.T) {
	iss := oidctest.NewIssuer(t)
	clock := &fakeClock{now: time.Now()}
	v := newTestVerifier(t, testConfig(iss, "jwks"), clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Verify(ctx, iss.Sign(t, iss.Claims("repo:x", "keyless-kingdom", clock.Now())))
	require.ErrorIs(t, err, context.Canceled)
}
