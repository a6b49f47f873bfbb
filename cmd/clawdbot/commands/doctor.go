package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/authaudit"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/authprofiles"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

// newDoctorCmd creates the `clawdbot doctor` command.
func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose and repair auth profile configuration",
		Long: `Check the configured auth profiles against the credential store.

A "<provider>:default" OAuth profile in config.yaml that has been replaced by a
re-authenticated profile (usually "<provider>:<email>") is renamed, and explicit
orders that referenced it are rewritten. The previous config is kept as .bak.

Examples:
  clawdbot doctor
  clawdbot doctor --yes`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
	cmd.Flags().BoolP("yes", "y", false, "apply repairs without asking")
	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	store := a.manager.EnsureStore(a.agentDir)

	repaired, results := planRepairs(a.cfg, store)
	reportHeldProfiles(cmd, store)

	if len(results) == 0 {
		fmt.Fprintln(out, "No auth profile issues found.")
		return nil
	}

	fmt.Fprintln(out, "Proposed changes:")
	for _, r := range results {
		for _, change := range r.Changes {
			fmt.Fprintf(out, "  - %s\n", change)
		}
	}

	if a.configPath == "" {
		return fmt.Errorf("no config file found to repair")
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(out, `Re-run with "clawdbot doctor --yes" to apply.`)
			return nil
		}
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Apply %d change(s) to %s?", len(results), a.configPath)).
			Affirmative("Apply").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return fmt.Errorf("confirmation prompt: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(out, "No changes applied.")
			return nil
		}
	}

	if err := config.SaveConfigToFile(repaired, a.configPath); err != nil {
		return fmt.Errorf("saving repaired config: %w", err)
	}
	if a.journal != nil {
		for _, r := range results {
			a.journal.Record(authaudit.KindRepair, r.ToProfileID, providerOf(r.ToProfileID),
				fmt.Sprintf("%s -> %s", r.FromProfileID, r.ToProfileID))
		}
	}
	fmt.Fprintf(out, "Updated %s (backup at %s.bak).\n", a.configPath, a.configPath)
	return nil
}

// planRepairs runs the profile id repair for every configured
// "<provider>:default" oauth pin and returns the resulting config along with
// the repairs that migrated something.
func planRepairs(cfg *config.Config, store *authprofiles.Store) (*config.Config, []authprofiles.RepairResult) {
	var legacyIDs []string
	for id, pc := range cfg.Auth.Profiles {
		if strings.HasSuffix(id, ":default") && config.IsOAuthMode(pc.Mode) {
			legacyIDs = append(legacyIDs, id)
		}
	}
	sort.Strings(legacyIDs)

	current := cfg
	var results []authprofiles.RepairResult
	for _, id := range legacyIDs {
		pc, _ := current.Profile(id)
		res := authprofiles.RepairOAuthProfileIDMismatch(current, store, pc.Provider, id)
		if !res.Migrated {
			continue
		}
		current = res.Config
		results = append(results, res)
	}
	return current, results
}

// reportHeldProfiles lists profiles currently in cooldown or disabled.
func reportHeldProfiles(cmd *cobra.Command, store *authprofiles.Store) {
	var held []string
	for id := range store.Profiles {
		if stats := store.UsageStats[id]; stats.CooldownUntil > 0 || stats.DisabledUntil > 0 {
			held = append(held, id)
		}
	}
	if len(held) == 0 {
		return
	}
	sort.Strings(held)
	fmt.Fprintln(cmd.OutOrStdout(), "Profiles with failure state (clear with \"clawdbot auth cooldown clear <id>\"):")
	for _, id := range held {
		stats := store.UsageStats[id]
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s: %d error(s)", id, stats.ErrorCount)
		if stats.DisabledReason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), ", disabled (%s)", stats.DisabledReason)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
}

func providerOf(profileID string) string {
	provider, _, _ := strings.Cut(profileID, ":")
	return provider
}
