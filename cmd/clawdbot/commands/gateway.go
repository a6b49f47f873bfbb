package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/maintenance"
)

// newGatewayCmd creates the `clawdbot gateway` command.
func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the credential maintenance loop of the gateway",
		Long: `Run the long-lived gateway process. It keeps external CLI credentials
mirrored into the auth store and refreshes OAuth profiles shortly before
they expire, until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runGateway,
	}
}

func runGateway(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Maintenance.Enabled {
		return fmt.Errorf("maintenance is disabled in config")
	}

	ctx, cancel := context.WithCancel(background(cmd))
	defer cancel()

	runner := maintenance.New(a.cfg.Maintenance, a.manager, a.agentDir, a.logger)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	a.logger.Info("gateway running", "agent_dir", a.agentDir, "config", a.configPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		a.logger.Info("shutdown signal received, stopping...")
	case <-ctx.Done():
	}

	runner.Stop()
	return nil
}
