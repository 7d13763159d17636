package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/voiceboard/internal/config"
	"github.com/goodtune/voiceboard/internal/gateway/discord"
	"github.com/goodtune/voiceboard/internal/metrics"
	"github.com/goodtune/voiceboard/internal/rank"
	"github.com/goodtune/voiceboard/internal/service"
	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/goodtune/voiceboard/internal/storage/bolt"
	"github.com/goodtune/voiceboard/internal/storage/redis"
	"github.com/goodtune/voiceboard/internal/systemd"
	"github.com/goodtune/voiceboard/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Voiceboard server",
	Long:  `Start the Voiceboard daemon: Discord gateway, time tracking, rank synchronization, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Voiceboard")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize Discord gateway
	gateway, err := discord.New(discord.Config{
		Token:         cfg.Discord.Token,
		StreamingRole: cfg.Discord.StreamingRole,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Discord gateway: %w", err)
	}

	// Initialize tracking
	clock := tracker.RealClock{}

	accumulator := tracker.NewAccumulator(
		store.Times(),
		clock,
		tracker.Config{
			DailyCap: parseDuration(cfg.Tracking.DailyCap, tracker.DefaultDailyCap),
		},
		logger,
	)

	debouncer := tracker.NewDebouncer(
		parseDuration(cfg.Tracking.GraceWindow, tracker.DefaultGraceWindow),
		clock,
	)

	logger.Info().Msg("Time tracker initialized")

	// Initialize rank synchronization
	synchronizer := rank.NewSynchronizer(
		store.Times(),
		gateway.Directory(),
		buildTiers(cfg.Tiers),
		logger,
	)

	logger.Info().Int("tiers", len(cfg.Tiers)).Msg("Rank synchronizer initialized")

	svc := service.New(
		store.Times(),
		accumulator,
		debouncer,
		synchronizer,
		gateway.Live,
		service.Config{
			SyncInterval: parseDuration(cfg.Tracking.SyncInterval, service.DefaultSyncInterval),
		},
		logger,
	)
	gateway.Attach(svc)

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Connect to Discord last so every event finds the service wired up
	if err := gateway.Open(); err != nil {
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}

	logger.Info().Msg("Voiceboard startup complete")
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop the gateway first so no new events arrive, then fold open state
	if err := gateway.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing Discord gateway")
	}

	svc.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Voiceboard stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: 'bolt', 'redis')", storageType)
	}
}

// buildTiers converts configured tiers into thresholds, appending the
// sentinel catch-all when the configuration leaves it implicit.
func buildTiers(tiers []config.TierConfig) []rank.Threshold {
	out := make([]rank.Threshold, 0, len(tiers)+1)
	for _, t := range tiers {
		out = append(out, rank.Threshold{MaxRank: t.MaxRank, RoleID: t.Role})
	}
	if len(out) == 0 || out[len(out)-1].MaxRank != 0 {
		out = append(out, rank.Threshold{})
	}
	return out
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
