package source

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v80/github"

	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/providers/github"
)

var _ Fetcher = (*GitHubFetcher)(nil)

// GitHubFetcher reads every .yaml/.yml file below the configured path of a
// repository, authenticated as a GitHub App installation.
type GitHubFetcher struct {
	cfg        config.GitHubSourceConfig
	key        *rsa.PrivateKey
	httpClient *http.Client
}

func NewGitHubFetcher(cfg config.GitHubSourceConfig, httpClient *http.Client) (*GitHubFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid GitHub source config: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key of GitHub source: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GitHubFetcher{cfg: cfg, key: key, httpClient: httpClient}, nil
}

func (f *GitHubFetcher) Fetch(ctx context.Context, logger logging.InternalLogger) ([]core.TrustPolicy, error) {
	ref := f.cfg.Ref
	if ref == "" {
		ref = "main"
	}
	logger.Info("Starting GitHub policy sync for %s/%s (ref: %s)", f.cfg.Owner, f.cfg.Repo, ref)

	appClient, err := github.NewClient(f.httpClient, f.cfg.AppID, f.key, f.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("app auth failed: %w", err)
	}
	client, err := github.InstallationClient(ctx, appClient, f.httpClient, f.cfg.InstallationID, f.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("installation auth failed: %w", err)
	}

	tree, _, err := client.Git.GetTree(ctx, f.cfg.Owner, f.cfg.Repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("get tree failed: %w", err)
	}

	var paths []string
	for _, entry := range tree.Entries {
		path := entry.GetPath()
		if entry.GetType() != "blob" {
			continue
		}
		if f.cfg.Path != "" && !strings.HasPrefix(path, f.cfg.Path) {
			continue
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		logger.Warn("No policy files found in '%s' @ %s", f.cfg.Path, ref)
		return nil, nil
	}
	// later files win on duplicate keys, so the order has to be stable
	slices.Sort(paths)

	var all []core.TrustPolicy
	for _, path := range paths {
		file, _, _, err := client.Repositories.GetContents(ctx, f.cfg.Owner, f.cfg.Repo, path, &gh.RepositoryContentGetOptions{
			Ref: ref,
		})
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", path, err)
		}
		if file == nil {
			return nil, fmt.Errorf("download %s: not a file", path)
		}
		content, err := file.GetContent()
		if err != nil {
			return nil, fmt.Errorf("decode content %s: %w", path, err)
		}

		var parsed policyFile
		if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
			logger.Error("Failed to parse YAML in %s: %v", path, err)
			return nil, fmt.Errorf("syntax error in %s: %w", path, err)
		}
		all = append(all, parsed.Policies...)
		logger.Info("Loaded %s, found %d policies", path, len(parsed.Policies))
	}

	logger.Info("Fetch complete. Total policies loaded: %d", len(all))
	return all, nil
}
