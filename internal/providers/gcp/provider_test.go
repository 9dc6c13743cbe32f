package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const (
	serviceAccount = "deploy@acme.iam.gserviceaccount.com"
	poolAudience   = "//iam.googleapis.com/projects/1/locations/global/workloadIdentityPools/ci/providers/gh"
)

type fakeGoogle struct {
	stsStatus int
	iamStatus int
	lifetime  string
}

func (f *fakeGoogle) start(t *testing.T) *httptest.Server {
	t.Helper()
	expire := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("subject_token") != "id-token" ||
			r.PostForm.Get("audience") != poolAudience ||
			r.PostForm.Get("subject_token_type") != tokenTypeJWT {
			t.Errorf("unexpected sts form: %v", r.PostForm)
		}
		if f.stsStatus != 0 {
			w.WriteHeader(f.stsStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":      "federated-token",
			"issued_token_type": "urn:ietf:params:oauth:token-type:access_token",
			"token_type":        "Bearer",
			"expires_in":        3600,
		})
	})
	mux.HandleFunc("POST /iam/projects/-/serviceAccounts/{account}", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer federated-token" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.PathValue("account"); got != serviceAccount+":generateAccessToken" {
			t.Errorf("unexpected account %q", got)
		}
		var body struct {
			Lifetime string   `json:"lifetime"`
			Scope    []string `json:"scope"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Scope) != 1 || body.Scope[0] != DefaultScope {
			t.Errorf("unexpected scopes %v", body.Scope)
		}
		f.lifetime = body.Lifetime

		if f.iamStatus != 0 {
			w.WriteHeader(f.iamStatus)
			_, _ = w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "sa-token",
			"expireTime":  expire.Format(time.RFC3339),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New("gcp", ProviderConfig{
		Audience:          poolAudience,
		STSURL:            srv.URL + "/v1/token",
		IAMCredentialsURL: srv.URL + "/iam",
	}, srv.Client())
	require.NoError(t, err)
	return p
}

func TestProvider_IssueCredential(t *testing.T) {
	fake := &fakeGoogle{}
	p := newProvider(t, fake.start(t))

	cred, err := p.IssueCredential(context.Background(), core.IssueRequest{
		TargetRole:   serviceAccount,
		Lifetime:     15 * time.Minute,
		SubjectToken: "id-token",
	})
	require.NoError(t, err)
	assert.Equal(t, "sa-token", cred.Secret)
	assert.Equal(t, serviceAccount, cred.TargetRole)
	assert.Equal(t, "900s", fake.lifetime)
	assert.False(t, cred.ExpiresAt.IsZero())
}

func TestProvider_Errors(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeGoogle
		wantDenied bool
	}{
		{"sts rejects token", &fakeGoogle{stsStatus: http.StatusBadRequest}, true},
		{"sts unavailable", &fakeGoogle{stsStatus: http.StatusServiceUnavailable}, false},
		{"impersonation forbidden", &fakeGoogle{iamStatus: http.StatusForbidden}, true},
		{"iam unavailable", &fakeGoogle{iamStatus: http.StatusServiceUnavailable}, false},
		{"unknown service account", &fakeGoogle{iamStatus: http.StatusNotFound}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, tt.fake.start(t))
			_, err := p.IssueCredential(context.Background(), core.IssueRequest{
				TargetRole:   serviceAccount,
				Lifetime:     time.Hour,
				SubjectToken: "id-token",
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantDenied, errors.Is(err, core.ErrProviderDenied), "error: %v", err)
		})
	}
}

func TestProvider_ValidateRole(t *testing.T) {
	p, err := New("gcp", ProviderConfig{Audience: poolAudience}, nil)
	require.NoError(t, err)

	assert.NoError(t, p.ValidateRole(serviceAccount))
	assert.Error(t, p.ValidateRole("deploy"))
	assert.Error(t, p.ValidateRole("@acme"))
	assert.Error(t, p.ValidateRole("projects/x/deploy@acme"))
}
