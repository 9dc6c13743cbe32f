package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = `
issuers:
  - name: github
    issuer_url: https://token.actions.githubusercontent.com
    branch: { strategy: subject }
providers:
  - name: aws
    type: stub
policies:
  - provider: aws
    role: arn:aws:iam::111:role/Deploy
    subject: "repo:acme/core:*"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(base))
	require.NoError(t, err)

	assert.Equal(t, DefaultAudience, cfg.Broker.Audience)
	assert.Equal(t, DefaultLifetime, cfg.Broker.DefaultLifetime)
	assert.Equal(t, "oidc", cfg.Issuers[0].Type)
	assert.Equal(t, []string{"RS256"}, cfg.Issuers[0].Algorithms)
	assert.Equal(t, 3, cfg.Providers[0].Retry.MaxAttempts)
	assert.Equal(t, "memory", cfg.PolicyStore.Type)
	assert.Equal(t, "file", cfg.Audit.Type)
	assert.Equal(t, DefaultAuditPath, cfg.Audit.Path)
	assert.Nil(t, cfg.PolicySource)
	assert.NoError(t, cfg.ValidateServe())
}

func TestValidateServe(t *testing.T) {
	tests := []struct {
		name    string
		audit   string
		wantErr bool
	}{
		{"memory", "audit: { type: memory }", true},
		{"file", "audit: { type: file, path: /var/log/keyless.jsonl }", false},
		{"sqlite", "audit: { type: sqlite, path: keyless.db }", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(base + tt.audit + "\n"))
			require.NoError(t, err)

			err = cfg.ValidateServe()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServe() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ADMIN_KEY", "s3cret")
	cfg, err := Parse([]byte(base + "api:\n  admin_key: ${TEST_ADMIN_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.AdminKey)
}

func TestParse_PolicySource(t *testing.T) {
	cfg, err := Parse([]byte(base + `
policy_source:
  interval: 10m
  github:
    app_id: 1
    installation_id: 2
    private_key: key
    owner: acme
    repo: policies
    path: policies/
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.PolicySource.GitHub)
	assert.Equal(t, "main", cfg.PolicySource.GitHub.Ref)
	assert.Equal(t, 10*time.Minute, cfg.PolicySource.Interval)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "unknown store",
			extra:   "policy_store: { type: etcd }",
			wantErr: "unknown policy_store type",
		},
		{
			name:    "sqlite audit without path",
			extra:   "audit: { type: sqlite }",
			wantErr: "audit.path is required",
		},
		{
			name:    "policy source without repo",
			extra:   "policy_source: { github: { app_id: 1, installation_id: 2, private_key: k, owner: acme } }",
			wantErr: "repo is required",
		},
		{
			name:    "empty policy source",
			extra:   "policy_source: { interval: 1m }",
			wantErr: "no valid policy source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(base + tt.extra + "\n"))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Parse([]byte(`
providers:
  - name: aws
    type: stub
policies:
  - provider: oracle
    role: r
    subject: s
`))
	assert.ErrorContains(t, err, "unknown provider")
}
