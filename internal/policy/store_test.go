package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/store"
)

func storeBackends(t *testing.T) map[string]core.PolicyStore {
	t.Helper()

	mem, err := NewMemoryStore()
	require.NoError(t, err)

	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	backends := map[string]core.PolicyStore{
		"memory": mem,
		"sqlite": NewSQLiteStore(db, true),
		"redis":  NewRedisStore(client, "test:policies"),
	}
	t.Cleanup(func() {
		for _, s := range backends {
			_ = s.Close()
		}
	})
	return backends
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	policy := core.TrustPolicy{
		Name:        "core-deploy",
		Provider:    "aws",
		TargetRole:  "arn:aws:iam::111:role/Deploy",
		Subject:     "repo:acme/core:*",
		Audience:    "sts.amazonaws.com",
		Branch:      "main",
		Issuer:      "https://ci.example.com",
		Condition:   `claims["actor"] != "bot"`,
		MaxLifetime: 15 * time.Minute,
	}

	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, policy))

			got, err := s.Get(ctx, policy.Provider, policy.TargetRole)
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(policy, *got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			missing, err := s.Get(ctx, "aws", "arn:aws:iam::111:role/Nope")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStore_PutReplacesSameKey(t *testing.T) {
	ctx := context.Background()
	first := core.TrustPolicy{Provider: "aws", TargetRole: "role-a", Subject: "repo:acme/core:*"}
	second := first
	second.Subject = "repo:acme/core:ref:refs/heads/main"
	other := core.TrustPolicy{Provider: "gcp", TargetRole: "sa@acme.iam.gserviceaccount.com", Subject: "repo:acme/*"}

	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, first))
			require.NoError(t, s.Put(ctx, other))
			require.NoError(t, s.Put(ctx, second))

			list, err := s.List(ctx, "aws")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, second.Subject, list[0].Subject)

			all, err := s.All(ctx)
			require.NoError(t, err)
			sortByID := cmpopts.SortSlices(func(a, b core.TrustPolicy) bool { return a.ID() < b.ID() })
			if diff := cmp.Diff([]core.TrustPolicy{second, other}, all, sortByID); diff != "" {
				t.Fatalf("unexpected policies (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(ctx, core.TrustPolicy{Provider: "aws", TargetRole: "r", Subject: "repo:*:x"})
			require.Error(t, err)

			list, err := s.List(ctx, "aws")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestMemoryStore_ConcurrentPutGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore()
	require.NoError(t, err)

	const writes = 200
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			p := core.TrustPolicy{
				Provider:   "aws",
				TargetRole: "role",
				Subject:    fmt.Sprintf("repo:acme/%d:*", i),
				Name:       fmt.Sprintf("v%d", i),
			}
			if err := s.Put(ctx, p); err != nil {
				t.Errorf("put: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			p, err := s.Get(ctx, "aws", "role")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			if p == nil {
				continue
			}
			// name and subject are written together, a torn read would mix versions
			want := fmt.Sprintf("repo:acme/%s:*", p.Name[1:])
			if p.Subject != want {
				t.Errorf("torn policy: name %q with subject %q", p.Name, p.Subject)
				return
			}
		}
	}()

	wg.Wait()
}
