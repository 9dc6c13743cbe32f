// Package client is a Go client for the keyless-kingdom HTTP API.
package client

import (
	"net/http"
	"time"
)

type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client

	// retries of idempotent requests after gateway errors
	retries uint
}

// DefaultRetries is the number of times a GET is repeated after a gateway error.
const DefaultRetries = 2

type Option func(*Client)

// WithAuthToken sets the admin session token sent on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetries overrides DefaultRetries. Zero disables retries.
func WithRetries(n uint) Option {
	return func(c *Client) {
		c.retries = n
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retries:    DefaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
