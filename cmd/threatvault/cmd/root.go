// Package cmd provides the CLI commands for ThreatVault.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/secstack/threatvault/internal/config"
	"github.com/secstack/threatvault/internal/logging"
	"github.com/secstack/threatvault/internal/store"
	"github.com/secstack/threatvault/internal/ui"
	"github.com/secstack/threatvault/pkg/version"
)

// Global flags shared by every subcommand.
var (
	configPath string
	dataDir    string
	debugMode  bool
)

// NewRootCmd creates the root command for the threatvault CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threatvault",
		Short: "Threat-intelligence memory and ingestion engine",
		Long: `ThreatVault ingests indicators of compromise from external threat
feeds, persists them with merge-on-reobservation semantics, answers
similarity queries over the accumulated history, and curates training
datasets from it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("threatvault version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDatasetCmd())
	cmd.AddCommand(newFeedsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		ui.NewRenderer(root.ErrOrStderr()).Error(err)
	}
	return err
}

// app bundles the wiring every subcommand needs: configuration, a
// logger, and an open store. Close releases the store and log file.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	renderer *ui.Renderer

	cleanups []func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		logCleanup()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		renderer: ui.NewRenderer(cmd.OutOrStdout()),
		cleanups: []func(){func() { _ = st.Close() }, logCleanup},
	}, nil
}

func (a *app) Close() {
	for _, cleanup := range a.cleanups {
		cleanup()
	}
}
