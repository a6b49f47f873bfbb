package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/authaudit"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/authprofiles"
)

// newAuthCmd creates the `clawdbot auth` command group.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage LLM provider auth profiles",
		Long: `Manage the credential profiles stored in auth-profiles.json.

Examples:
  clawdbot auth list
  clawdbot auth status --provider anthropic
  clawdbot auth add --id openai:work --type api_key
  clawdbot auth order set anthropic anthropic:me@example.com anthropic:claude-cli
  clawdbot auth cooldown clear openai:work
  clawdbot auth events -n 50`,
	}

	cmd.AddCommand(
		newAuthListCmd(),
		newAuthStatusCmd(),
		newAuthAddCmd(),
		newAuthOrderCmd(),
		newAuthCooldownCmd(),
		newAuthEventsCmd(),
	)
	return cmd
}

func newAuthListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored auth profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			provider, _ := cmd.Flags().GetString("provider")
			store := a.manager.EnsureStore(a.agentDir)

			var ids []string
			if provider != "" {
				ids = authprofiles.ListProfilesForProvider(store, provider)
			} else {
				for id := range store.Profiles {
					ids = append(ids, id)
				}
				sort.Strings(ids)
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No auth profiles.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tPROVIDER\tTYPE\tSTATUS")
			now := time.Now()
			for _, id := range ids {
				cred := store.Profiles[id]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					authprofiles.ResolveAuthProfileDisplayLabel(a.cfg, store, id),
					cred.Provider, cred.Type, profileStatus(store, id, now))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("provider", "p", "", "only list profiles of this provider")
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the profile order the gateway will try for a provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			provider, _ := cmd.Flags().GetString("provider")
			preferred, _ := cmd.Flags().GetString("prefer")
			store := a.manager.EnsureStore(a.agentDir)
			order := a.manager.ResolveAuthProfileOrder(a.cfg, store, provider, preferred)

			out := cmd.OutOrStdout()
			if len(order) == 0 {
				fmt.Fprintf(out, "No usable profiles for %s.\n", provider)
				if hint := authprofiles.FormatAuthDoctorHint(a.cfg, store, provider, ""); hint != "" {
					fmt.Fprintf(out, "\n%s\n", hint)
				}
				return nil
			}

			now := time.Now()
			fmt.Fprintf(out, "Profile order for %s:\n", provider)
			for i, id := range order {
				fmt.Fprintf(out, "  %d. %s  [%s]\n", i+1,
					authprofiles.ResolveAuthProfileDisplayLabel(a.cfg, store, id), profileStatus(store, id, now))
			}
			if good := store.LastGood[authprofiles.NormalizeProviderID(provider)]; good != "" {
				fmt.Fprintf(out, "Last good: %s\n", good)
			}
			return nil
		},
	}
	cmd.Flags().StringP("provider", "p", "", "provider id (e.g. anthropic)")
	cmd.Flags().String("prefer", "", "profile to move to the front")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func newAuthAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an api_key or token profile",
		Long: `Add or replace a profile. The provider defaults to the part of the id
before the colon. When neither --key nor --token is given and stdin is a
terminal, the secret is read without echo.

Examples:
  clawdbot auth add --id openai:work --type api_key
  clawdbot auth add --id anthropic:ci --type token --token "$TOKEN" --expires 720h`,
		Args: cobra.NoArgs,
		RunE: runAuthAdd,
	}
	cmd.Flags().String("id", "", "profile id (<provider>:<name>)")
	cmd.Flags().String("provider", "", "provider id (default: id prefix)")
	cmd.Flags().String("type", string(authprofiles.TypeAPIKey), "credential type (api_key, token)")
	cmd.Flags().String("key", "", "API key")
	cmd.Flags().String("token", "", "bearer token")
	cmd.Flags().Duration("expires", 0, "token lifetime from now (e.g. 720h)")
	cmd.Flags().String("email", "", "account email")
	cmd.MarkFlagRequired("id")
	return cmd
}

func runAuthAdd(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	provider, _ := cmd.Flags().GetString("provider")
	credType, _ := cmd.Flags().GetString("type")
	key, _ := cmd.Flags().GetString("key")
	token, _ := cmd.Flags().GetString("token")
	expires, _ := cmd.Flags().GetDuration("expires")
	email, _ := cmd.Flags().GetString("email")

	if provider == "" {
		provider, _, _ = strings.Cut(id, ":")
	}
	cred := authprofiles.Credential{
		Type:     authprofiles.CredentialType(credType),
		Provider: strings.TrimSpace(provider),
		Email:    strings.TrimSpace(email),
	}

	switch cred.Type {
	case authprofiles.TypeAPIKey:
		if key == "" {
			secret, err := readSecret(cmd, "API key: ")
			if err != nil {
				return err
			}
			key = secret
		}
		cred.Key = key
	case authprofiles.TypeToken:
		if token == "" {
			secret, err := readSecret(cmd, "Token: ")
			if err != nil {
				return err
			}
			token = secret
		}
		cred.Token = token
		if expires > 0 {
			cred.Expires = time.Now().Add(expires).UnixMilli()
		}
	default:
		return fmt.Errorf("unsupported type %q (use api_key or token; oauth profiles come from login flows)", credType)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.UpsertAuthProfile(background(cmd), id, cred, a.agentDir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s).\n", id, cred.Type)
	return nil
}

// readSecret prompts on the terminal without echo.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no secret given and stdin is not a terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("empty secret")
	}
	return secret, nil
}

func newAuthOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Override the profile order of a provider",
	}

	set := &cobra.Command{
		Use:   "set <provider> <profile-id>...",
		Short: "Set an explicit profile order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthOrder(cmd, args[0], args[1:])
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear <provider>",
		Short: "Remove the explicit order and return to round robin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthOrder(cmd, args[0], nil)
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func runAuthOrder(cmd *cobra.Command, provider string, ids []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.manager.EnsureStore(a.agentDir)
	for _, id := range ids {
		if _, ok := store.Profiles[id]; !ok {
			return fmt.Errorf("unknown profile %q", id)
		}
	}

	store, err = a.manager.SetAuthProfileOrder(background(cmd), provider, ids, a.agentDir)
	if err != nil {
		return err
	}
	key := authprofiles.NormalizeProviderID(provider)
	if order, ok := store.Order[key]; ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Order for %s: %s\n", key, strings.Join(order, ", "))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Order for %s cleared.\n", key)
	}
	return nil
}

func newAuthCooldownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cooldown",
		Short: "Inspect or clear profile cooldowns",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <profile-id>",
		Short: "Clear the failure cooldown of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			store := a.manager.EnsureStore(a.agentDir)
			if _, ok := store.Profiles[args[0]]; !ok {
				return fmt.Errorf("unknown profile %q", args[0])
			}
			if err := a.manager.ClearProfileCooldown(background(cmd), store, args[0], a.agentDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cooldown cleared for %s.\n", args[0])
			return nil
		},
	})
	return cmd
}

func newAuthEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent auth events (refreshes, failures, repairs)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.journal == nil {
				return fmt.Errorf("auth audit journal is disabled")
			}
			n, _ := cmd.Flags().GetInt("limit")
			events, err := a.journal.Recent(n)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of events")
	return cmd
}

func printEvents(out io.Writer, events []authaudit.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No auth events.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tPROFILE\tPROVIDER\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.RFC3339), e.Kind, e.ProfileID, e.Provider, e.Detail)
	}
	return w.Flush()
}

// profileStatus describes whether a profile can be used right now.
func profileStatus(store *authprofiles.Store, id string, now time.Time) string {
	cred := store.Profiles[id]
	nowMs := now.UnixMilli()

	stats := store.UsageStats[id]
	if stats.DisabledUntil > nowMs {
		reason := string(stats.DisabledReason)
		if reason == "" {
			reason = "disabled"
		}
		return fmt.Sprintf("disabled (%s) for %s", reason, untilString(stats.DisabledUntil, now))
	}
	if stats.CooldownUntil > nowMs {
		return fmt.Sprintf("cooldown for %s", untilString(stats.CooldownUntil, now))
	}

	switch cred.Type {
	case authprofiles.TypeToken:
		if cred.Expires > 0 && cred.Expires <= nowMs {
			return "expired"
		}
	case authprofiles.TypeOAuth:
		if cred.Expires <= nowMs {
			return "expired (refreshes on use)"
		}
		return fmt.Sprintf("ok, expires in %s", untilString(cred.Expires, now))
	}
	return "ok"
}

func untilString(ms int64, now time.Time) string {
	return time.UnixMilli(ms).Sub(now).Round(time.Second).String()
}

// background is used where cobra has not set a context (tests).
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
