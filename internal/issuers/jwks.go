package issuers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// maxJWKSSize limits how much of a key document is read.
const maxJWKSSize = 1 << 20

var _ core.KeySource = (*JWKSSource)(nil)

// JWKSSource fetches a JWK set from a fixed URL.
type JWKSSource struct {
	url    string
	client *http.Client
}

func NewJWKSSource(url string, client *http.Client) *JWKSSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSSource{url: url, client: client}
}

func (s *JWKSSource) FetchKeys(ctx context.Context) (map[string]any, error) {
	return fetchJWKS(ctx, s.client, s.url)
}

func fetchJWKS(ctx context.Context, client *http.Client, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return ParseJWKS(data)
}

// ParseJWKS parses a JWK set document into raw public keys keyed by kid.
func ParseJWKS(data []byte) (map[string]any, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing jwks: %w", err)
	}

	// the kids are read from the document itself so keys keep their order and
	// duplicates can be detected
	var doc struct {
		Keys []struct {
			KeyID string `json:"kid"`
			Use   string `json:"use"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing jwks: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Use != "" && entry.Use != "sig" {
			continue
		}
		var (
			key jwk.Key
			ok  bool
		)
		if entry.KeyID == "" {
			// a key without kid is only usable when it is the only one
			if len(doc.Keys) > 1 {
				continue
			}
			key, ok = set.Key(0)
		} else {
			if _, dup := keys[entry.KeyID]; dup {
				return nil, fmt.Errorf("jwks contains key id '%s' more than once", entry.KeyID)
			}
			key, ok = set.LookupKeyID(entry.KeyID)
		}
		if !ok {
			continue
		}
		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("exporting key '%s': %w", entry.KeyID, err)
		}
		keys[entry.KeyID] = raw
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks contains no signing keys")
	}
	return keys, nil
}
