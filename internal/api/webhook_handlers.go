package api

import (
	"net/http"

	"github.com/google/go-github/v80/github"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/api/presenter"
	"github.com/MikeDominic92/keyless-kingdom/internal/source"
)

type WebhookResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Task   string `json:"task,omitempty"`
	Commit string `json:"commit,omitempty"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if s.webhook == nil || s.webhook.WebhookSecret == "" || s.taskManager == nil {
		logger.Warn().Msg("received GitHub webhook but no GitHub policy source is configured")
		presenter.Error(w, r, "webhooks not configured", http.StatusNotImplemented)
		return
	}

	payload, err := github.ValidatePayload(r, []byte(s.webhook.WebhookSecret))
	if err != nil {
		logger.Warn().Err(err).Msg("invalid GitHub webhook payload")
		presenter.Error(w, r, "invalid payload", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to parse GitHub webhook")
		presenter.Error(w, r, "invalid webhook", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.PushEvent:
		target := s.webhook.Ref
		if target == "" {
			target = "main"
		}
		ref := e.GetRef()
		if ref != "refs/heads/"+target && ref != target {
			logger.Debug().
				Str("ref", ref).
				Str("target", target).
				Msg("ignoring push to non-target branch")
			presenter.JSON(w, r, WebhookResponse{Status: "ignored", Reason: "branch mismatch"}, http.StatusOK)
			return
		}

		logger.Info().
			Str("pusher", e.GetPusher().GetName()).
			Str("commit", e.GetHeadCommit().GetID()).
			Msg("received push to policy repository, triggering sync")

		if err := s.taskManager.Trigger(source.SyncTaskName); err != nil {
			logger.Error().Err(err).Msg("failed to trigger sync task")
			presenter.Error(w, r, "failed to trigger sync", taskErrorStatus(err))
			return
		}
		presenter.JSON(w, r, WebhookResponse{
			Status: "triggered",
			Task:   source.SyncTaskName,
			Commit: e.GetHeadCommit().GetID(),
		}, http.StatusAccepted)

	case *github.PingEvent:
		presenter.JSON(w, r, WebhookResponse{Status: "pong"}, http.StatusOK)

	default:
		presenter.JSON(w, r, WebhookResponse{Status: "ignored"}, http.StatusOK)
	}
}
