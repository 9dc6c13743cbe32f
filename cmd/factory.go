package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MikeDominic92/keyless-kingdom/internal/cliconfig"
	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
	"github.com/MikeDominic92/keyless-kingdom/pkg/client"
)

type Factory struct {
	// RemoteAddr is the address of the keyless server to connect to.
	RemoteAddr string

	// ConfigPath is the broker configuration used by serve and local commands.
	ConfigPath string

	// RequestTimeout bounds every request to the server.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 60 * time.Second

func NewFactory() *Factory {
	return &Factory{}
}

// Remote reports whether commands should talk to a server instead of running locally.
func (f *Factory) Remote() bool {
	return f.RemoteAddr != "" && f.ConfigPath == ""
}

// GetClient returns an HTTP client carrying the admin session for the server.
func (f *Factory) GetClient() (*client.Client, error) {
	server := f.RemoteAddr // prio 1: command-line flag
	if server == "" {
		server = viper.GetString(ServerAddrKey) // prio 2: config/env
	}
	if server == "" {
		return nil, fmt.Errorf("server address not configured (use --server or set KEYLESS_ADDR)")
	}

	var token string
	if cfg, err := cliconfig.Load(); err == nil {
		if cred, err := cfg.GetCredential(server); err == nil { // token prio 1: saved session
			if cred.Expired(time.Now()) {
				log.Warn().Msgf("saved session for %s expired at %s", server, cred.ExpiresAt.Format(time.RFC3339))
			}
			token = cred.Token
		}
	}
	if envToken := viper.GetString(TokenKey); envToken != "" { // token prio 2: KEYLESS_TOKEN
		token = envToken
	}

	timeout := f.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return client.New(server,
		client.WithAuthToken(token),
		client.WithHTTPClient(&http.Client{Timeout: timeout}),
	), nil
}

func (f *Factory) LoadConfig() (*config.Config, error) {
	if f.ConfigPath == "" {
		return nil, fmt.Errorf("config file not specified (use --config)")
	}
	return config.Load(f.ConfigPath)
}

// BuildLocal wires a broker from the config file in this process.
// The caller must Close the runtime.
func (f *Factory) BuildLocal(ctx context.Context) (*service.Runtime, error) {
	cfg, err := f.LoadConfig()
	if err != nil {
		return nil, err
	}
	return service.Build(ctx, cfg)
}

func (f *Factory) bindConfigFlag(flags *pflag.FlagSet) {
	flags.StringVarP(&f.ConfigPath, "config", "f", os.Getenv("KEYLESS_CONFIG"), "The broker config file to use")
}
