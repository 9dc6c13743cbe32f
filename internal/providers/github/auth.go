package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v80/github"
)

// appJWTLifetime stays below the ten minutes GitHub accepts.
const appJWTLifetime = 9 * time.Minute

// NewClient creates a GitHub client authenticated as the App with the given
// private key. If enterpriseURL is non-empty, it configures the client for
// GitHub Enterprise Server. Uploads are not supported by the returned client.
func NewClient(httpClient *http.Client, appID int64, key any, enterpriseURL string) (*github.Client, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer: fmt.Sprint(appID),
		// backdated against clock drift between us and GitHub
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("signing github app jwt: %w", err)
	}

	client := github.NewClient(httpClient).WithAuthToken(signed)
	if enterpriseURL != "" {
		client, err = client.WithEnterpriseURLs(enterpriseURL, enterpriseURL)
		if err != nil {
			return nil, fmt.Errorf("creating github enterprise client: %w", err)
		}
	}
	return client, nil
}

// InstallationClient exchanges the app client for a client authenticated as
// the given installation.
func InstallationClient(ctx context.Context, appClient *github.Client, httpClient *http.Client, installationID int64, enterpriseURL string) (*github.Client, error) {
	token, _, err := appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("creating installation token for installation %d", installationID))
	}

	client := github.NewClient(httpClient).WithAuthToken(token.GetToken())
	if enterpriseURL != "" {
		client, err = client.WithEnterpriseURLs(enterpriseURL, enterpriseURL)
		if err != nil {
			return nil, fmt.Errorf("creating github enterprise client: %w", err)
		}
	}
	return client, nil
}
