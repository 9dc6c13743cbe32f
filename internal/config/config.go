package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/validation"
)

const (
	DefaultAudience        = "keyless-kingdom"
	DefaultLifetime        = time.Hour
	DefaultClockSkew       = 60 * time.Second
	DefaultIssueTimeout    = 30 * time.Second
	DefaultAuditTimeout    = 5 * time.Second
	DefaultRefreshInterval = time.Hour
	DefaultMaxKeyAge       = 24 * time.Hour
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultMinRefresh      = 30 * time.Second
	DefaultAuditPath       = "keyless-audit.jsonl"
)

type Config struct {
	Broker      BrokerConfig       `yaml:"broker"`
	API         APIConfig          `yaml:"api"`
	Issuers     []IssuerConfig     `yaml:"issuers"`
	Providers   []ProviderConfig   `yaml:"providers"`
	PolicyStore PolicyStoreConfig  `yaml:"policy_store"`
	Audit       AuditConfig        `yaml:"audit"`
	Policies    []core.TrustPolicy `yaml:"policies"`

	// PolicySource optionally syncs policies from a git repository into the store.
	PolicySource *PolicySourceConfig `yaml:"policy_source,omitempty"`
}

// BrokerConfig holds the global settings of the credential broker.
type BrokerConfig struct {
	// Audience is the audience every token must carry, unless the issuer overrides it.
	Audience string `yaml:"audience"`

	// DefaultLifetime is the credential lifetime used when a policy does not cap it lower.
	DefaultLifetime time.Duration `yaml:"default_lifetime"`

	ClockSkew    time.Duration `yaml:"clock_skew"`
	IssueTimeout time.Duration `yaml:"issue_timeout"`
	AuditTimeout time.Duration `yaml:"audit_timeout"`
}

type APIConfig struct {
	// AdminKey is the HMAC key used to verify admin session tokens.
	// Admin routes are disabled when it is empty.
	AdminKey string `yaml:"admin_key"`
}

// BranchConfig selects how the branch of a token is determined for an issuer.
type BranchConfig struct {
	Strategy string `yaml:"strategy"` // subject, claim, expr, none
	Claim    string `yaml:"claim"`
	Expr     string `yaml:"expr"`
}

// IssuerConfig holds configuration for a trusted token issuer.
type IssuerConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // oidc, jwks, static

	// IssuerURL must equal the 'iss' claim of the tokens.
	IssuerURL string `yaml:"issuer_url"`

	// JWKSURL is required for type jwks.
	JWKSURL string `yaml:"jwks_url"`

	// JWKS or JWKSFile provide the key set for type static.
	JWKS     string `yaml:"jwks"`
	JWKSFile string `yaml:"jwks_file"`

	// Audience overrides the broker audience for this issuer.
	Audience   string   `yaml:"audience"`
	Algorithms []string `yaml:"algorithms"`

	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	MaxKeyAge          time.Duration `yaml:"max_key_age"`
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
	RefreshTimeout     time.Duration `yaml:"refresh_timeout"`

	Branch BranchConfig `yaml:"branch"`
}

// RetryConfig is the bounded retry policy for a provider adapter.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
}

// ProviderConfig holds configuration for a provider adapter.
type ProviderConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"` // aws, azure, gcp, stub
	Retry  RetryConfig    `yaml:"retry"`
	Config map[string]any `yaml:",inline"` // Capture remaining fields
}

type PolicyStoreConfig struct {
	Type string `yaml:"type"` // memory, sqlite, redis

	// Path is the database file for sqlite.
	Path string `yaml:"path"`

	// Addr, Password, DB and Prefix configure redis.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuditConfig holds configuration for the audit log.
type AuditConfig struct {
	Type string `yaml:"type"` // file, sqlite, memory
	Path string `yaml:"path"`
}

// GitHubSourceConfig reads policy files from a GitHub repository through a GitHub App installation.
type GitHubSourceConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKey     string `yaml:"private_key"`

	// ServerURL is the GitHub Enterprise server URL, empty for github.com.
	ServerURL string `yaml:"server"`

	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`

	// Path is the directory within the repository to load policy files from, e.g. "policies/".
	Path string `yaml:"path"`
	Ref  string `yaml:"ref"`

	// WebhookSecret enables the push webhook that triggers a sync.
	WebhookSecret string `yaml:"webhook_secret"`
}

func (c *GitHubSourceConfig) Validate() error {
	if c.AppID == 0 {
		return fmt.Errorf("app_id is required")
	}
	if c.InstallationID == 0 {
		return fmt.Errorf("installation_id is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private_key is required")
	}
	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if c.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	return nil
}

// PolicySourceConfig holds configuration for the policy source => where to sync policies from.
type PolicySourceConfig struct {
	GitHub *GitHubSourceConfig `yaml:"github,omitempty"`

	// Interval between syncs. Zero only syncs on startup and when triggered.
	Interval time.Duration `yaml:"interval"`
}

func (s *PolicySourceConfig) Validate() error {
	switch {
	case s.GitHub != nil:
		if err := s.GitHub.Validate(); err != nil {
			return fmt.Errorf("validating GitHub policy source: %w", err)
		}
	default:
		return fmt.Errorf("no valid policy source configured")
	}
	if s.Interval < 0 {
		return fmt.Errorf("policy_source.interval must not be negative")
	}
	return nil
}

// Load reads and parses the configuration file at the given path.
// Environment variables in the file (${VAR}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Broker.Audience, DefaultAudience)
	setDefault(&c.Broker.DefaultLifetime, DefaultLifetime)
	setDefault(&c.Broker.ClockSkew, DefaultClockSkew)
	setDefault(&c.Broker.IssueTimeout, DefaultIssueTimeout)
	setDefault(&c.Broker.AuditTimeout, DefaultAuditTimeout)

	for i := range c.Issuers {
		iss := &c.Issuers[i]
		setDefault(&iss.Type, "oidc")
		setDefault(&iss.RefreshInterval, DefaultRefreshInterval)
		setDefault(&iss.MaxKeyAge, DefaultMaxKeyAge)
		setDefault(&iss.MinRefreshInterval, DefaultMinRefresh)
		setDefault(&iss.RefreshTimeout, DefaultRefreshTimeout)
		setDefault(&iss.Branch.Strategy, "none")
		if len(iss.Algorithms) == 0 {
			iss.Algorithms = []string{"RS256"}
		}
	}

	for i := range c.Providers {
		r := &c.Providers[i].Retry
		setDefault(&r.MaxAttempts, 3)
		setDefault(&r.InitialInterval, 200*time.Millisecond)
		setDefault(&r.MaxInterval, 5*time.Second)
		setDefault(&r.AttemptTimeout, 10*time.Second)
	}

	setDefault(&c.PolicyStore.Type, "memory")
	setDefault(&c.PolicyStore.Prefix, "keyless:policies")
	setDefault(&c.Audit.Type, "file")
	if c.Audit.Type == "file" {
		setDefault(&c.Audit.Path, DefaultAuditPath)
	}

	if c.PolicySource != nil && c.PolicySource.GitHub != nil {
		setDefault(&c.PolicySource.GitHub.Ref, "main")
	}
}

// ValidateServe checks the settings a long running server depends on on top
// of Validate. Decisions of a memory audit log are gone after a restart.
func (c *Config) ValidateServe() error {
	if c.Audit.Type == "memory" {
		return fmt.Errorf("audit type 'memory' is not durable, use 'file' or 'sqlite' to serve")
	}
	return nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func (c *Config) Validate() error {
	if c.Broker.DefaultLifetime <= 0 {
		return fmt.Errorf("broker.default_lifetime must be positive")
	}
	if c.Broker.ClockSkew < 0 {
		return fmt.Errorf("broker.clock_skew must not be negative")
	}

	issuerNames := make(map[string]struct{})
	issuerURLs := make(map[string]struct{})
	for idx, i := range c.Issuers {
		if i.Name == "" {
			return fmt.Errorf("issuer at index %d has empty name", idx)
		}
		if _, dup := issuerNames[i.Name]; dup {
			return fmt.Errorf("issuer name '%s' is not unique", i.Name)
		}
		issuerNames[i.Name] = struct{}{}

		if i.IssuerURL == "" {
			return fmt.Errorf("issuer '%s' missing issuer_url", i.Name)
		}
		if _, dup := issuerURLs[i.IssuerURL]; dup {
			return fmt.Errorf("issuer_url '%s' is configured twice", i.IssuerURL)
		}
		issuerURLs[i.IssuerURL] = struct{}{}

		switch i.Type {
		case "oidc":
		case "jwks":
			if i.JWKSURL == "" {
				return fmt.Errorf("jwks issuer '%s' missing jwks_url", i.Name)
			}
		case "static":
			if i.JWKS == "" && i.JWKSFile == "" {
				return fmt.Errorf("static issuer '%s' needs jwks or jwks_file", i.Name)
			}
		default:
			return fmt.Errorf("unknown issuer type '%s' for issuer '%s'", i.Type, i.Name)
		}

		switch i.Branch.Strategy {
		case "none", "subject":
		case "claim":
			if i.Branch.Claim == "" {
				return fmt.Errorf("issuer '%s': branch strategy 'claim' needs branch.claim", i.Name)
			}
		case "expr":
			if i.Branch.Expr == "" {
				return fmt.Errorf("issuer '%s': branch strategy 'expr' needs branch.expr", i.Name)
			}
		default:
			return fmt.Errorf("issuer '%s': unknown branch strategy '%s'", i.Name, i.Branch.Strategy)
		}
	}

	providerNames := make(map[string]struct{})
	for idx, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider at index %d has empty name", idx)
		}
		if _, dup := providerNames[p.Name]; dup {
			return fmt.Errorf("provider name '%s' is not unique", p.Name)
		}
		providerNames[p.Name] = struct{}{}
		if p.Retry.MaxAttempts < 1 {
			return fmt.Errorf("provider '%s': retry.max_attempts must be at least 1", p.Name)
		}
	}

	switch c.PolicyStore.Type {
	case "memory":
	case "sqlite":
		if c.PolicyStore.Path == "" {
			return fmt.Errorf("policy_store.path is required for sqlite")
		}
	case "redis":
		if c.PolicyStore.Addr == "" {
			return fmt.Errorf("policy_store.addr is required for redis")
		}
	default:
		return fmt.Errorf("unknown policy_store type '%s'", c.PolicyStore.Type)
	}

	switch c.Audit.Type {
	case "memory":
	case "file", "sqlite":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for %s audit", c.Audit.Type)
		}
	default:
		return fmt.Errorf("unknown audit type '%s'", c.Audit.Type)
	}

	if c.PolicySource != nil {
		if err := c.PolicySource.Validate(); err != nil {
			return err
		}
	}

	if err := validation.ValidatePolicies(c.Policies, providerNames, issuerURLs); err != nil {
		return fmt.Errorf("validating policies: %w", err)
	}

	return nil
}

// IssuerURLs returns the set of configured issuer URLs.
func (c *Config) IssuerURLs() map[string]struct{} {
	urls := make(map[string]struct{}, len(c.Issuers))
	for _, i := range c.Issuers {
		urls[i.IssuerURL] = struct{}{}
	}
	return urls
}

// ProviderNames returns the set of configured provider names.
func (c *Config) ProviderNames() map[string]struct{} {
	names := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		names[p.Name] = struct{}{}
	}
	return names
}
