// Package api exposes the broker over HTTP.
package api

import (
	"net/http"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/middleware"
	"github.com/MikeDominic92/keyless-kingdom/internal/config"
	"github.com/MikeDominic92/keyless-kingdom/internal/core"
	"github.com/MikeDominic92/keyless-kingdom/internal/metrics"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

// KeySetLister exposes the cached signing keys of the verifier.
type KeySetLister interface {
	KeySets() map[string]*core.SigningKeySet
}

type Server struct {
	service     *service.FederationService
	taskManager *tasks.Manager
	metrics     *metrics.Metrics
	keys        KeySetLister

	// webhook is the policy source push events are checked against, nil if disabled
	webhook *config.GitHubSourceConfig
}

func NewServer(
	svc *service.FederationService,
	taskManager *tasks.Manager,
	m *metrics.Metrics,
	keys KeySetLister,
) *Server {
	return &Server{
		service:     svc,
		taskManager: taskManager,
		metrics:     m,
		keys:        keys,
	}
}

// EnableGitHubWebhook accepts push events of the policy repository and
// triggers a policy sync for pushes to the configured ref.
func (s *Server) EnableGitHubWebhook(cfg config.GitHubSourceConfig) {
	s.webhook = &cfg
}

// Routes builds the handler. Admin routes are only mounted if adminKey is set.
func (s *Server) Routes(adminKey []byte) http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.HandleFunc("GET "+AboutRoute, s.handleAbout)
	if s.metrics != nil {
		mux.Handle("GET "+MetricsRoute, s.metrics.Handler())
	}

	mux.HandleFunc("POST "+AuthenticateRoute, s.handleAuthenticate)
	mux.HandleFunc("POST "+WebhookRoute, s.handleGitHubWebhook)

	// admin routes
	if len(adminKey) > 0 {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("GET "+DecisionsRoute, s.handleListDecisions)
		adminMux.HandleFunc("GET "+DecisionRoute, s.handleGetDecision)
		adminMux.HandleFunc("GET "+PoliciesRoute, s.handleGetPolicies)
		adminMux.HandleFunc("PUT "+PoliciesRoute, s.handlePutPolicy)
		adminMux.HandleFunc("POST "+ExplainRoute, s.handleExplain)
		adminMux.HandleFunc("GET "+KeySetsRoute, s.handleKeySets)
		if s.taskManager != nil {
			adminMux.HandleFunc("GET "+ListTasksRoute+"{$}", s.handleListTasks)
			adminMux.HandleFunc("POST "+TriggerTaskRoute, s.handleTriggerTask)
			adminMux.HandleFunc("GET "+LogsForTaskRoute, s.handleLogsForTask)
		}
		mux.Handle(AdminParent, middleware.AdminAuth(adminKey)(adminMux))
	}

	return middleware.CorrelationIDMiddleware(
		middleware.LoggingMiddleware(
			middleware.RecoverMiddleware(
				mux)))
}
