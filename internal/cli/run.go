package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/auth"
	"github.com/ChrisB0-2/apguard/internal/config"
	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/daemon"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/metrics"
)

var runFixture string

func init() {
	runCmd.Flags().StringVar(&runFixture, "fixture", "", "use the static Wi-Fi driver with this fixture file")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the apguard daemon",
	Long: "Evaluates scan results on every poll, enables trusted networks, holds back " +
		"the rest and serves the HTTP API until interrupted.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer closeLog()

		if err := runDaemon(cmd.Context(), cfg, log); err != nil {
			log.Error("daemon failed", logger.F("error", err.Error()))
			return err
		}
		return nil
	},
}

func runDaemon(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watcher *config.Watcher
	var policy coordinator.PolicySource
	if path := resolvedConfigPath(); cfg.Daemon.WatchConfig && path != "" {
		w, err := config.NewWatcher(path, cfg.Policy, log.WithFields(logger.F("component", "config")))
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		watcher, policy = w, w
	}

	svc, err := setup(ctx, cfg, log, setupOptions{policy: policy, fixture: runFixture, metrics: true})
	if err != nil {
		return err
	}
	defer svc.Close()

	var guard func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		role, err := auth.ParseRole(cfg.Auth.DefaultRole)
		if err != nil {
			return err
		}
		guard, err = auth.Chain(auth.APIKeyConfig{
			Key:         cfg.Auth.Key,
			KeyEnv:      cfg.Auth.KeyEnv,
			KeysFile:    cfg.Auth.KeysFile,
			HeaderName:  cfg.Auth.HeaderName,
			DefaultRole: role,
		}, cfg.Auth.PublicPaths, log.WithFields(logger.F("component", "auth")))
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if svc.registry != nil {
		ms := metrics.NewServer(cfg.Daemon.MetricsAddr, svc.registry)
		go func() {
			log.Info("metrics server starting", logger.F("addr", ms.Addr()))
			if err := ms.Start(); err != nil {
				log.Error("metrics server error", logger.F("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := ms.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown error", logger.F("error", err.Error()))
			}
		}()
	}

	d := daemon.New(log.WithFields(logger.F("component", "daemon")), daemon.Deps{
		Coordinator: svc.coord,
		Bridge:      svc.bridge,
		Ledger:      svc.ledger,
		Wifi:        svc.wifi,
		Board:       svc.board,
	}, daemon.Config{
		HTTPAddr:          cfg.Daemon.HTTPAddr,
		PollInterval:      cfg.Scan.PollInterval,
		KeepaliveInterval: cfg.Scan.KeepaliveInterval,
		ReleaseOnExit:     cfg.Daemon.ReleaseOnExit,
		ShutdownTimeout:   cfg.Daemon.ShutdownTimeout,
		PIDFile:           cfg.Daemon.PIDFile,
		Auditor:           svc.audit,
		Middleware:        guard,
	})

	if watcher != nil {
		watcher.OnReload(func(core.PolicyConfig) { d.Notify("config_reload") })
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watcher stopped", logger.F("error", err.Error()))
			}
		}()
	}

	log.Info("apguard starting",
		logger.F("version", buildVersion),
		logger.F("ledger", cfg.Ledger.Backend),
		logger.F("wifi", cfg.Wifi.Driver),
		logger.F("policy", fmt.Sprintf("%+v", cfg.Policy.Core())))

	return d.Run(ctx)
}
