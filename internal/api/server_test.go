package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/middleware"
	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/oidctest"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

var adminKey = []byte("test-admin-key")

type testEnv struct {
	iss *oidctest.Issuer
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	iss := oidctest.NewIssuer(t)

	cfg, err := config.Parse([]byte(`
broker:
  audience: keyless-kingdom
  audit_timeout: 100ms
audit:
  type: memory
issuers:
  - name: ci
    type: jwks
    issuer_url: ` + iss.URL() + `
    jwks_url: ` + iss.JWKSURL() + `
    branch: { strategy: subject }
providers:
  - name: aws
    type: stub
    deny_roles: ["arn:aws:iam::111:role/Forbidden"]
policies:
  - name: core-deploy
    provider: aws
    role: arn:aws:iam::111:role/Deploy
    subject: "repo:acme/core:*"
  - provider: aws
    role: arn:aws:iam::111:role/Forbidden
    subject: "repo:acme/forbidden:*"
`))
	require.NoError(t, err)

	rt, err := service.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	taskManager := tasks.NewManager()
	rt.Verifier.RegisterTasks(taskManager)
	t.Cleanup(taskManager.Stop)

	server := NewServer(rt.Service, taskManager, rt.Metrics, rt.Verifier)
	srv := httptest.NewServer(server.Routes(adminKey))
	t.Cleanup(srv.Close)

	return &testEnv{iss: iss, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) admin(t *testing.T) string {
	t.Helper()
	tok, _, err := middleware.NewAdminToken(adminKey, "tester", time.Hour)
	require.NoError(t, err)
	return tok
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthenticateRoute(t *testing.T) {
	env := newTestEnv(t)
	token := func(sub string) string {
		return env.iss.Sign(t, env.iss.Claims(sub, "keyless-kingdom", time.Now()))
	}

	t.Run("allow", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, AuthenticateRoute, token("repo:acme/core:ref:refs/heads/main"),
			AuthenticatePayload{Provider: "aws"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(middleware.CorrelationIDHeader))

		body := decode[service.AuthenticateResponse](t, resp)
		assert.Equal(t, core.Allow, body.Decision.Kind)
		assert.Equal(t, "arn:aws:iam::111:role/Deploy", body.Decision.TargetRole)
		assert.Equal(t, resp.Header.Get(middleware.CorrelationIDHeader), body.Decision.CorrelationID)
		assert.Equal(t, "127.0.0.1", body.Decision.SourceIP)
		require.NotNil(t, body.Credential)
		assert.NotEmpty(t, body.Credential.Secret)
	})

	t.Run("no matching policy", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, AuthenticateRoute, token("repo:acme/unknown:ref:refs/heads/main"),
			AuthenticatePayload{Provider: "aws"})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		body := decode[service.AuthenticateResponse](t, resp)
		assert.Equal(t, core.ReasonNoMatchingPolicy, body.Decision.Reason)
		assert.Nil(t, body.Credential)
	})

	t.Run("provider denial", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, AuthenticateRoute, token("repo:acme/forbidden:x"),
			AuthenticatePayload{Provider: "aws"})
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		body := decode[service.AuthenticateResponse](t, resp)
		assert.Equal(t, core.ReasonProviderError, body.Decision.Reason)
	})

	t.Run("missing token", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, AuthenticateRoute, "", AuthenticatePayload{Provider: "aws"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[presenter.ErrorResponse](t, resp)
		assert.NotEmpty(t, body.CorrelationID)
	})

	t.Run("unknown fields", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, AuthenticateRoute, token("repo:acme/core:x"),
			map[string]string{"provider": "aws", "role": "admin"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t)

	t.Run("requires admin session", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, DecisionsRoute, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		forged, _, err := middleware.NewAdminToken([]byte("other-key"), "mallory", time.Hour)
		require.NoError(t, err)
		resp = env.do(t, http.MethodGet, DecisionsRoute, forged, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, presenter.InvalidSessionMessage, decode[presenter.ErrorResponse](t, resp).Error)
	})

	// produce one decision
	tok := env.iss.Sign(t, env.iss.Claims("repo:acme/core:ref:refs/heads/main", "keyless-kingdom", time.Now()))
	resp := env.do(t, http.MethodPost, AuthenticateRoute, tok, AuthenticatePayload{Provider: "aws"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	allowed := decode[service.AuthenticateResponse](t, resp).Decision

	t.Run("decisions", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, DecisionsRoute+"?kind=ALLOW&provider=aws", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decisions := decode[[]core.FederationDecision](t, resp)
		require.Len(t, decisions, 1)
		assert.Equal(t, allowed.ID, decisions[0].ID)

		resp = env.do(t, http.MethodGet, AdminParent+"decisions/"+allowed.ID, admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.do(t, http.MethodGet, AdminParent+"decisions/nope", admin, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = env.do(t, http.MethodGet, DecisionsRoute+"?limit=abc", admin, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("policies", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, PoliciesRoute+"?provider=aws", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]core.TrustPolicy](t, resp), 2)

		overlap := core.TrustPolicy{Provider: "aws", TargetRole: "arn:aws:iam::111:role/Shadow", Subject: "repo:acme/core:*"}
		resp = env.do(t, http.MethodPut, PoliciesRoute, admin, overlap)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		put := decode[service.PutPolicyResponse](t, resp)
		assert.Len(t, put.Warnings, 1)

		resp = env.do(t, http.MethodGet, PoliciesRoute+"?provider=aws&role=arn:aws:iam::111:role/Shadow", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, overlap.Subject, decode[core.TrustPolicy](t, resp).Subject)

		resp = env.do(t, http.MethodPut, PoliciesRoute, admin, core.TrustPolicy{Provider: "aws", TargetRole: "r", Subject: "a*b"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = env.do(t, http.MethodPut, PoliciesRoute, admin, core.TrustPolicy{Provider: "oracle", TargetRole: "r", Subject: "a"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("explain", func(t *testing.T) {
		tok := env.iss.Sign(t, env.iss.Claims("repo:acme/forbidden:x", "keyless-kingdom", time.Now()))
		resp := env.do(t, http.MethodPost, ExplainRoute, admin, service.ExplainRequest{Token: tok, Provider: "aws"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		trace := decode[core.MatchTrace](t, resp)
		assert.Equal(t, "aws/arn:aws:iam::111:role/Forbidden", trace.Selected)

		resp = env.do(t, http.MethodPost, ExplainRoute, admin, service.ExplainRequest{ReplayID: allowed.ID})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		trace = decode[core.MatchTrace](t, resp)
		assert.Equal(t, allowed.Principal.Subject, trace.Principal.Subject)

		resp = env.do(t, http.MethodPost, ExplainRoute, admin, service.ExplainRequest{Token: "garbage", Provider: "aws"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("keys and tasks", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, KeySetsRoute, admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		keys := decode[map[string]*KeySetInfo](t, resp)
		require.NotNil(t, keys["ci"])
		assert.Equal(t, []string{"key-1"}, keys["ci"].KeyIDs)

		resp = env.do(t, http.MethodGet, ListTasksRoute, admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status := decode[[]tasks.TaskStatus](t, resp)
		require.Len(t, status, 1)
		assert.Equal(t, "keys.refresh.ci", status[0].Name)

		resp = env.do(t, http.MethodPost, strings.Replace(TriggerTaskRoute, "{name}", "keys.refresh.ci", 1), admin, nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = env.do(t, http.MethodGet, strings.Replace(LogsForTaskRoute, "{name}", "nope", 1), admin, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, HealthCheckRoute, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, AboutRoute, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	about := decode[AboutResponse](t, resp)
	assert.Equal(t, "stub", about.Providers["aws"].Type)

	resp = env.do(t, http.MethodGet, MetricsRoute, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestAdminRoutesDisabledWithoutKey(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, nil, nil, nil).Routes(nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + DecisionsRoute)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
