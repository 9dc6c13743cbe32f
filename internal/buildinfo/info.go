// Package buildinfo carries version information set at link time.
package buildinfo

import "runtime"

var (
	Version    = "v0.1.0-dev"
	CommitHash = "unknown"
)

type Info struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash,omitempty"`
	GoVersion  string `json:"go_version,omitempty"`
}

func GetBuildInfo() Info {
	return Info{
		Service:    "keyless-kingdom",
		Version:    Version,
		CommitHash: CommitHash,
		GoVersion:  runtime.Version(),
	}
}
