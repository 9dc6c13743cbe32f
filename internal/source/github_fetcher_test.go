package source

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
)

// fakeRepo serves a git tree and file contents the way the GitHub API does.
func fakeRepo(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/app/installations/{id}/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "99", r.PathValue("id"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_sync",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /api/v3/repos/acme/policies/git/trees/{ref}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghs_sync", r.Header.Get("Authorization"))
		assert.Equal(t, "main", r.PathValue("ref"))
		entries := []map[string]string{{"path": "policies", "type": "tree"}}
		for path := range files {
			entries = append(entries, map[string]string{"path": path, "type": "blob"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sha": "abc", "tree": entries})
	})
	mux.HandleFunc("GET /api/v3/repos/acme/policies/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[r.PathValue("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "file",
			"path":     r.PathValue("path"),
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, srv *httptest.Server) *GitHubFetcher {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f, err := NewGitHubFetcher(config.GitHubSourceConfig{
		AppID:          42,
		InstallationID: 99,
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})),
		ServerURL: srv.URL,
		Owner:     "acme",
		Repo:      "policies",
		Path:      "policies/",
		Ref:       "main",
	}, srv.Client())
	require.NoError(t, err)
	return f
}

func TestGitHubFetcher_Fetch(t *testing.T) {
	srv := fakeRepo(t, map[string]string{
		"policies/b.yml": `
policies:
  - provider: gcp
    role: deployer@acme.iam.gserviceaccount.com
    subject: "repo:acme/web:*"
`,
		"policies/a.yaml": `
policies:
  - name: core
    provider: aws
    role: arn:aws:iam::111:role/Deploy
    subject: "repo:acme/core:ref:refs/heads/main"
`,
		"policies/README.md": "not a policy",
		"other/c.yaml":       "policies: [{provider: aws, role: x, subject: y}]",
	})

	policies, err := newFetcher(t, srv).Fetch(context.Background(), logging.Discard)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	// files are read in lexical order
	assert.Equal(t, "core", policies[0].Name)
	assert.Equal(t, "arn:aws:iam::111:role/Deploy", policies[0].TargetRole)
	assert.Equal(t, "gcp", policies[1].Provider)
}

func TestGitHubFetcher_SyntaxError(t *testing.T) {
	srv := fakeRepo(t, map[string]string{"policies/broken.yaml": "policies: [:"})

	_, err := newFetcher(t, srv).Fetch(context.Background(), logging.Discard)
	assert.ErrorContains(t, err, "policies/broken.yaml")
}

func TestNewGitHubFetcher_Invalid(t *testing.T) {
	_, err := NewGitHubFetcher(config.GitHubSourceConfig{AppID: 1}, nil)
	assert.Error(t, err)

	_, err = NewGitHubFetcher(config.GitHubSourceConfig{
		AppID: 1, InstallationID: 2, PrivateKey: "nope", Owner: "o", Repo: "r",
	}, nil)
	assert.ErrorContains(t, err, "private key")
}

