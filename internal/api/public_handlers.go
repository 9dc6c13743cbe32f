package api

import (
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/buildinfo"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// handleHealth responds with a simple OK status to indicate the server is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type AboutResponse struct {
	buildinfo.Info
	Providers map[string]core.ProviderInfo `json:"providers"`
}

// handleAbout responds with build information and the configured providers.
func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, AboutResponse{
		Info:      buildinfo.GetBuildInfo(),
		Providers: s.service.Providers(),
	}, http.StatusOK)
}
