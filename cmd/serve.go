package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MikeDominic92/keyless-kingdom/internal/api"
	"github.com/MikeDominic92/keyless-kingdom/internal/logging"
	"github.com/MikeDominic92/keyless-kingdom/internal/policy"
	"github.com/MikeDominic92/keyless-kingdom/internal/service"
	"github.com/MikeDominic92/keyless-kingdom/internal/source"
	"github.com/MikeDominic92/keyless-kingdom/internal/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keyless server",
	Long: `Starts the HTTP API of the broker.

Signing keys of all issuers are fetched on startup and refreshed in the
background. Admin routes are only served if api.admin_key is configured.`,
	Example: `  keyless serve -f keyless.yaml --addr :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := f.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		log.Info().Msg("Initializing broker...")
		rt, err := service.Build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				log.Warn().Err(err).Msg("closing runtime")
			}
		}()
		for name, info := range rt.Service.Providers() {
			log.Info().Str("provider", name).Str("type", info.Type).Msg("provider ready")
		}

		rt.Verifier.Warm(cmd.Context())

		taskManager := tasks.NewManager(tasks.WithObserver(rt.Metrics.ObserveTaskRun))
		defer taskManager.Stop()
		rt.Verifier.RegisterTasks(taskManager)
		registerLintTask(taskManager, rt)
		if err := registerPolicySource(taskManager, rt); err != nil {
			return err
		}

		if cfg.API.AdminKey == "" {
			log.Warn().Msg("api.admin_key is not set, admin routes are disabled")
		}
		srv := api.NewServer(rt.Service, taskManager, rt.Metrics, rt.Verifier)
		if ps := cfg.PolicySource; ps != nil && ps.GitHub != nil && ps.GitHub.WebhookSecret != "" {
			srv.EnableGitHubWebhook(*ps.GitHub)
			log.Info().Msgf("GitHub webhook enabled on %s", api.WebhookRoute)
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           srv.Routes([]byte(cfg.API.AdminKey)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Msgf("Starting server on %s...", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return fmt.Errorf("server crashed: %w", err)
		}
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("Server exited")
		return nil
	},
}

// registerLintTask adds an on-demand task that reports overlapping policies.
func registerLintTask(m *tasks.Manager, rt *service.Runtime) {
	m.Register("policies.lint", 0, func(ctx context.Context, logger logging.InternalLogger) error {
		all, err := rt.Store.All(ctx)
		if err != nil {
			return err
		}
		conflicts := policy.Lint(all)
		for _, c := range conflicts {
			logger.Warn("%s", c)
		}
		logger.Info("checked %d policies, %d overlaps", len(all), len(conflicts))
		return nil
	})
}

// registerPolicySource schedules the sync of the configured policy source and
// runs it once right away.
func registerPolicySource(m *tasks.Manager, rt *service.Runtime) error {
	ps := rt.Config.PolicySource
	if ps == nil || ps.GitHub == nil {
		return nil
	}
	fetcher, err := source.NewGitHubFetcher(*ps.GitHub, nil)
	if err != nil {
		return err
	}
	source.RegisterTask(m, ps.Interval, fetcher, rt.Service)
	log.Info().
		Str("repo", ps.GitHub.Owner+"/"+ps.GitHub.Repo).
		Dur("interval", ps.Interval).
		Msg("policy source configured")
	return m.Trigger(source.SyncTaskName)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f.bindConfigFlag(serveCmd.Flags())
	serveCmd.Flags().String("addr", ":8080", "address to listen on")
}
