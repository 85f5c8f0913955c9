package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/salon-coach/internal/archive"
	"github.com/sjawhar/salon-coach/internal/config"
	"github.com/sjawhar/salon-coach/internal/llm"
	"github.com/sjawhar/salon-coach/internal/notify"
	"github.com/sjawhar/salon-coach/internal/report"
	"github.com/sjawhar/salon-coach/internal/server"
	"github.com/sjawhar/salon-coach/internal/session"
	"github.com/sjawhar/salon-coach/internal/voice"
)

const shutdownTimeout = 10 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, warnings, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub()
	dispatcher := notify.NewDispatcher(hub,
		notify.WithCooldown(cfg.ParsedNotificationCooldown()),
		notify.WithTTL(cfg.ParsedNotificationTTL()),
		notify.WithLogger(logger),
	)
	resolver := voice.NewResolver(store,
		voice.WithSourceTimeout(cfg.ParsedVoiceSourceTimeout()),
		voice.WithLogger(logger),
	)

	manager := session.NewManager(store, newAggregator(cfg, logger),
		session.WithResolver(resolver),
		session.WithNotifier(dispatcher),
		session.WithBroadcaster(hub),
		session.WithArchiver(newArchiver(ctx, cfg, logger)),
		session.WithQueueSize(cfg.QueueSize),
		session.WithLogger(logger),
	)

	api := server.API{
		Sessions:      manager,
		Lister:        store,
		Voices:        voice.NewRegistry(store),
		Notifications: dispatcher,
		Warnings:      func() []string { return warnings },
	}
	if cfg.ExtractorURL != "" {
		api.Extractor = voice.NewExtractor(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ParsedExtractorTimeout())
	}

	handler, err := server.Handler(hub, api)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	logger.Info("salon-coach: starting", "addr", cfg.Addr, "db", cfg.DBPath)
	serveErr := server.Serve(ctx, cfg.Addr, handler)

	logger.Info("salon-coach: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err)
	}
	dispatcher.Wait()

	return serveErr
}

// newAggregator builds the report aggregator. Reports are still produced
// without a narrator; they just lack the summary and feedback text.
func newAggregator(cfg config.Config, logger *slog.Logger) *report.Aggregator {
	var narrator report.NarrativeWriter
	if cfg.NarratorModel != "" {
		client, err := llm.FromModel(cfg.NarratorModel, cfg.LLMKeys(), llm.WithJSONOutput())
		switch {
		case errors.Is(err, llm.ErrMissingKey):
			// reported by config validation
		case err != nil:
			logger.Warn("narrator disabled", "model", cfg.NarratorModel, "error", err)
		default:
			narrator = report.NewNarrator(client)
		}
	}
	return report.NewAggregator(narrator, cfg.ParsedNarratorTimeout())
}

func newArchiver(ctx context.Context, cfg config.Config, logger *slog.Logger) session.Archiver {
	var targets archive.Multi
	if cfg.ArchiveDir != "" {
		targets = append(targets, archive.NewDir(cfg.ArchiveDir))
	}
	if cfg.GDriveFolderID != "" {
		d, err := archive.NewDrive(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			logger.Warn("drive archive disabled", "error", err)
		} else {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return targets
}
