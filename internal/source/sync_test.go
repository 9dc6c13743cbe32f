package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
)

type staticFetcher struct {
	policies []core.TrustPolicy
	err      error
}

func (s staticFetcher) Fetch(context.Context, logging.InternalLogger) ([]core.TrustPolicy, error) {
	return s.policies, s.err
}

type recordingWriter struct {
	stored []core.TrustPolicy
	fail   string
}

func (w *recordingWriter) PutPolicy(_ context.Context, p core.TrustPolicy) (*service.PutPolicyResponse, error) {
	if p.TargetRole == w.fail {
		return nil, errors.New("unknown role")
	}
	w.stored = append(w.stored, p)
	resp := &service.PutPolicyResponse{Policy: p}
	if p.Subject == "repo:*" {
		resp.Warnings = []string{"overlaps"}
	}
	return resp, nil
}

func TestSync(t *testing.T) {
	deploy := core.TrustPolicy{Provider: "aws", TargetRole: "deploy", Subject: "repo:acme/core:*"}
	wide := core.TrustPolicy{Provider: "aws", TargetRole: "read", Subject: "repo:*"}

	t.Run("stores every policy", func(t *testing.T) {
		w := &recordingWriter{}
		res, err := Sync(context.Background(), staticFetcher{policies: []core.TrustPolicy{deploy, wide}}, w, logging.Discard)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Stored)
		assert.Equal(t, []string{"overlaps"}, res.Warnings)
		assert.Equal(t, []core.TrustPolicy{deploy, wide}, w.stored)
	})

	t.Run("last duplicate wins", func(t *testing.T) {
		changed := deploy
		changed.Subject = "repo:acme/core:ref:refs/heads/main"

		w := &recordingWriter{}
		res, err := Sync(context.Background(), staticFetcher{policies: []core.TrustPolicy{deploy, wide, changed}}, w, logging.Discard)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Fetched)
		assert.Equal(t, []core.TrustPolicy{changed, wide}, w.stored)
	})

	t.Run("invalid policy stores nothing", func(t *testing.T) {
		broken := core.TrustPolicy{Provider: "aws", TargetRole: "x", Subject: "a*b"}

		w := &recordingWriter{}
		_, err := Sync(context.Background(), staticFetcher{policies: []core.TrustPolicy{deploy, broken}}, w, logging.Discard)
		require.Error(t, err)
		assert.Empty(t, w.stored)
	})

	t.Run("fetch error", func(t *testing.T) {
		_, err := Sync(context.Background(), staticFetcher{err: errors.New("offline")}, &recordingWriter{}, logging.Discard)
		assert.ErrorContains(t, err, "offline")
	})

	t.Run("rejected by writer", func(t *testing.T) {
		w := &recordingWriter{fail: "read"}
		res, err := Sync(context.Background(), staticFetcher{policies: []core.TrustPolicy{deploy, wide}}, w, logging.Discard)
		require.Error(t, err)
		assert.Equal(t, 1, res.Stored)
	})
}
