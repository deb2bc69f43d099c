package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/runwatch/internal/runtime"
	configpkg "github.com/drblury/runwatch/internal/runtime/config"
	"github.com/drblury/runwatch/internal/runtime/dispatch"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	loggingpkg "github.com/drblury/runwatch/internal/runtime/logging"
)

var (
	serveLogLevel   string
	serveAPIAddress string
	serveNoWorker   bool
	serveAccessLog  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve webhooks and run flow jobs",
	Long: `Serve the webhook endpoints and, unless --no-worker is set, run a worker
that executes flow jobs with the built-in echo executor.

Sync webhooks (/v1/webhooks/:flowID/sync) wait for the run to reply. Async
webhooks (/v1/webhooks/:flowID) return 200 {} once the job is dispatched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configpkg.Load(envFiles...)
		if err != nil {
			return err
		}
		if err := applyServeFlags(cmd, cfg); err != nil {
			return err
		}
		if cfg.HandlerID == "" {
			cfg.HandlerID = idspkg.CreateULID()
		}

		base := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: loggingpkg.ParseLevel(cfg.LogLevel)})).With(
			slog.String("service", cfg.ServiceName),
			slog.String("handler_id", cfg.HandlerID),
		)
		logger := loggingpkg.NewSlogServiceLogger(base)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps := runtimepkg.ServiceDependencies{
			Executor: echoExecutor,
			Hooks:    dispatch.LoggingHooks(logger),
		}
		if serveAccessLog {
			deps.RequestLogger = base
		}

		svc, err := runtimepkg.NewService(ctx, cfg, logger, deps)
		if err != nil {
			return err
		}
		return svc.Start(ctx)
	},
}

// applyServeFlags lets explicitly set flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *configpkg.Config) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = serveLogLevel
	}
	if flags.Changed("api-address") {
		cfg.APIAddress = serveAPIAddress
	}
	if serveNoWorker {
		cfg.WorkerEnabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveAPIAddress, "api-address", ":3000", "Address of the webhook server")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Only serve webhooks; another process runs the jobs")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "Log every webhook request")
	rootCmd.AddCommand(serveCmd)
}
