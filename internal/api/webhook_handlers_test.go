package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/source"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

const webhookSecret = "hook-secret"

func newWebhookServer(t *testing.T, enable bool) (*httptest.Server, chan struct{}) {
	t.Helper()

	synced := make(chan struct{}, 1)
	m := tasks.NewManager()
	t.Cleanup(m.Stop)
	m.Register(source.SyncTaskName, 0, func(ctx context.Context, logger logging.InternalLogger) error {
		synced <- struct{}{}
		return nil
	})

	server := NewServer(nil, m, nil, nil)
	if enable {
		server.EnableGitHubWebhook(config.GitHubSourceConfig{Ref: "main", WebhookSecret: webhookSecret})
	}
	srv := httptest.NewServer(server.Routes(nil))
	t.Cleanup(srv.Close)
	return srv, synced
}

func sendHook(t *testing.T, srv *httptest.Server, event, secret, body string) *http.Response {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+WebhookRoute, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGitHubWebhook(t *testing.T) {
	push := func(ref string) string {
		return `{"ref":"` + ref + `","head_commit":{"id":"abc123"},"pusher":{"name":"octocat"}}`
	}

	t.Run("push to target triggers sync", func(t *testing.T) {
		srv, synced := newWebhookServer(t, true)
		resp := sendHook(t, srv, "push", webhookSecret, push("refs/heads/main"))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode[WebhookResponse](t, resp)
		assert.Equal(t, "triggered", body.Status)
		assert.Equal(t, "abc123", body.Commit)

		select {
		case <-synced:
		case <-time.After(5 * time.Second):
			t.Fatal("sync task did not run")
		}
	})

	t.Run("push to other branch is ignored", func(t *testing.T) {
		srv, _ := newWebhookServer(t, true)
		resp := sendHook(t, srv, "push", webhookSecret, push("refs/heads/feature/main"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ignored", decode[WebhookResponse](t, resp).Status)
	})

	t.Run("ping", func(t *testing.T) {
		srv, _ := newWebhookServer(t, true)
		resp := sendHook(t, srv, "ping", webhookSecret, `{"zen":"Keep it logically awesome."}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "pong", decode[WebhookResponse](t, resp).Status)
	})

	t.Run("bad signature", func(t *testing.T) {
		srv, _ := newWebhookServer(t, true)
		resp := sendHook(t, srv, "push", "wrong", push("refs/heads/main"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("disabled", func(t *testing.T) {
		srv, _ := newWebhookServer(t, false)
		resp := sendHook(t, srv, "push", webhookSecret, push("refs/heads/main"))
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	})
}
