// Package commands implements the clawdbot CLI commands using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/authaudit"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/authprofiles"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/paths"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawdbot",
		Short: "Clawdbot - multi-channel chat gateway for LLM backends",
		Long: `Clawdbot brokers conversations between messaging surfaces and LLM providers.
These commands manage the provider credentials the gateway uses.

Examples:
  clawdbot auth list
  clawdbot auth status --provider anthropic
  clawdbot doctor --yes
  clawdbot gateway`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newAuthCmd(),
		newDoctorCmd(),
		newGatewayCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringP("agent-dir", "a", "", "agent directory holding auth-profiles.json")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// app bundles what every command needs.
type app struct {
	cfg        *config.Config
	configPath string
	agentDir   string
	logger     *slog.Logger
	manager    *authprofiles.Manager
	journal    *authaudit.Journal
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.StateDir != "" {
		os.Setenv("CLAWDBOT_STATE_DIR", cfg.StateDir)
	}

	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())

	agentDir, _ := cmd.Root().PersistentFlags().GetString("agent-dir")
	if agentDir == "" {
		agentDir = cfg.AgentDir
	}

	a := &app{
		cfg:        cfg,
		configPath: configPath,
		agentDir:   agentDir,
		logger:     logger,
	}

	var recorder authprofiles.EventRecorder
	if cfg.Audit.Enabled {
		path := cfg.Audit.Path
		if path == "" {
			path = paths.AuditDBPath()
		}
		journal, err := authaudit.Open(path, logger)
		if err != nil {
			logger.Warn("auth audit journal unavailable", "path", path, "error", err)
		} else {
			a.journal = journal
			recorder = journal
		}
	}

	a.manager = authprofiles.NewManager(authprofiles.Options{
		Logger:   logger,
		Recorder: recorder,
	})
	return a, nil
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Debug("failed to close auth audit journal", "error", err)
		}
	}
}

// resolveConfig loads --config, else the first discovered config file, else
// the defaults. The returned path is empty when no file was found.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return config.DefaultConfig(), "", nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
