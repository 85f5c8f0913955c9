// Package cli implements the salon-coach commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sjawhar/salon-coach/internal/config"
	"github.com/sjawhar/salon-coach/internal/storage"
)

var (
	configPath string
	envFile    string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "salon-coach",
	Short:         "Live conversation coaching for hair salons",
	Long:          "Scores stylist and customer conversations in real time, nudges the stylist, and writes an end-of-session report.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SALON_COACH_CONFIG or config.yaml)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config; existing variables win")
}

// Execute runs the root command and reports any error on stderr.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv(config.EnvPrefix + "CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

// loadConfig reads the config and logs its warnings through the returned logger.
func loadConfig(stderr io.Writer) (config.Config, []string, *slog.Logger, error) {
	if err := loadEnvFile(envFile); err != nil {
		return config.Config{}, nil, nil, err
	}
	cfg, warnings, err := config.Load(getConfigPath())
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range warnings {
		logger.Warn(w)
	}
	return cfg, warnings, logger, nil
}

// loadEnvFile exports the variables of a dotenv file. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func openStore(cfg config.Config) (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
