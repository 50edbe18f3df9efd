package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/evotalks/backup-agent/internal/api"
	"github.com/evotalks/backup-agent/internal/archive"
	"github.com/evotalks/backup-agent/internal/config"
	"github.com/evotalks/backup-agent/internal/evotalks"
	"github.com/evotalks/backup-agent/internal/health"
	"github.com/evotalks/backup-agent/internal/metrics"
	"github.com/evotalks/backup-agent/internal/orchestrator"
	"github.com/evotalks/backup-agent/internal/reconciler"
	"github.com/evotalks/backup-agent/internal/scheduler"
	"github.com/evotalks/backup-agent/internal/store"
	"github.com/evotalks/backup-agent/internal/transcript"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	settings, err := config.LoadSettings()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}

	if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	loc, err := settings.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve timezone")
	}

	logger.Info().
		Str("environment", settings.Environment).
		Str("listen_addr", settings.ListenAddr).
		Str("config_path", settings.ConfigPath).
		Str("timezone", settings.Timezone).
		Msg("starting backup agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	configs := config.NewStore(settings.ConfigPath)

	runStore, err := store.New(settings.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open run store")
	}
	defer runStore.Close()

	m := metrics.New()
	formatter := transcript.New()
	archiveStore := archive.NewStore(formatter, logger)
	client := evotalks.NewClient(settings.RequestTimeout, logger)
	recon := reconciler.New(client, archiveStore, runStore, m, logger)
	orch := orchestrator.New(configs, client, archiveStore, recon, runStore, m, logger)

	// Weekly triggers, restored from the persisted schedule
	sched := scheduler.New(loc, func() {
		orch.RunBackupCycle(ctx, orchestrator.TriggerSchedule)
	}, logger)
	defer sched.Stop()

	cfg, err := configs.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read app config, starting unconfigured")
	} else if err := sched.RestoreFromConfig(cfg.WeekSchedule); err != nil {
		logger.Error().Err(err).Msg("failed to restore weekly schedule")
	} else {
		logger.Info().Int("active_days", len(sched.Active())).Msg("weekly schedule restored")
	}

	checker := health.NewChecker(logger)
	checker.Register("download_dir", func(ctx context.Context) health.Status {
		cfg, err := configs.Load()
		if err != nil || cfg.DownloadPath == "" {
			return health.StatusDegraded
		}
		if _, err := os.Stat(cfg.DownloadPath); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("remote", func(ctx context.Context) health.Status {
		cfg, err := configs.Load()
		if err != nil || !cfg.RemoteConfigured() {
			return health.StatusDegraded
		}
		creds := evotalks.Credentials{APIKey: cfg.APIKey, InstanceURL: cfg.InstanceURL}
		if res := client.FetchCleaningInfo(ctx, creds); res.Status == evotalks.StatusNetworkError {
			return health.StatusDown
		}
		return health.StatusOK
	})

	handlers := api.NewHandlers(archiveStore, configs, sched, orch, client, runStore, checker, logger)
	server := api.NewServer(api.ServerConfig{
		ListenAddr: settings.ListenAddr,
		APIKey:     settings.APIKey,
	}, handlers, m.Handler(), logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("local API server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("local API server shutdown error")
	}

	// Give an in-flight cycle a moment to notice the cancelled context.
	time.Sleep(500 * time.Millisecond)

	logger.Info().Msg("backup agent stopped")
}
