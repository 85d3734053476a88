package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sentinelx/internal/config"
)

// sleep is replaced in tests.
var sleep = time.Sleep

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <input>",
	Short: "Send one line to the current chat session",
	Long: `Send one line to the current chat session and print the reply
transcript as it plays out.

Examples:
  sentinel ask "scan for threats"
  sentinel ask quarantine 10.0.0.5
  sentinel ask --instant help`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instant, _ := cmd.Flags().GetBool("instant")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, true)
		if err != nil {
			return err
		}

		out, err := client.send(ctx, id, strings.Join(args, " "))
		if err != nil {
			return err
		}
		playSteps(out, instant)
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("instant", false, "print the whole transcript without waiting")
}

// playSteps prints a reply transcript, pausing for each step's delay.
func playSteps(out sendView, instant bool) {
	for _, st := range out.Steps {
		if !instant {
			sleep(time.Duration(st.AfterMS) * time.Millisecond)
		}
		if st.Kind == "reply" {
			printChatLine("agent", st.Persona, st.Text)
		} else {
			printChatLine("system", "", st.Text)
		}
	}
	if out.Mode == "cli" {
		dimColor.Fprintln(stderr, "(CLI fallback mode)")
	}
}

// --- agent ---

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Toggle the main agent between autonomous and manual control",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, true)
		if err != nil {
			return err
		}
		st, err := client.toggleAgent(ctx, id)
		if err != nil {
			return err
		}
		if st.AgentActive {
			printSuccess("Main Agent resumed autonomous operation")
		} else {
			printWarning("Main Agent switched to manual control; discovery and scanning paused")
		}
		return nil
	},
}

// --- scale ---

var scaleCmd = &cobra.Command{
	Use:   "scale [individual|business|enterprise]",
	Short: "Select the deployment scale, or show the auto-scan recommendation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, true)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			var rec struct {
				Scale          string `json:"scale"`
				Confidence     int    `json:"confidence"`
				PublicIPs      int    `json:"public_ips"`
				Services       int    `json:"services"`
				Complexity     string `json:"complexity"`
				Infrastructure string `json:"infrastructure"`
				Recommendation string `json:"recommendation"`
			}
			resp, err := client.get(ctx, sessionPath(id, "/recommendation"))
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
			printStep("Environment auto-scan complete")
			printStatus("Recommended scale", "%s (%d%% confidence)", rec.Scale, rec.Confidence)
			printStatus("Infrastructure", "%s", rec.Infrastructure)
			printStatus("Public IPs", "%d", rec.PublicIPs)
			printStatus("Services", "%d", rec.Services)
			printStatus("Complexity", "%s", rec.Complexity)
			fmt.Fprintln(stdout, rec.Recommendation)
			return nil
		}

		snap, err := client.selectScale(ctx, id, args[0])
		if err != nil {
			return err
		}
		printSuccess("Scale set to %s", snap.State.Scale)
		printMetrics(snap.Metrics)
		return nil
	},
}

func printMetrics(m metricsView) {
	printStatus("Ranges", "%d", m.Ranges)
	printStatus("Devices", "%d", m.Devices)
	printStatus("Services", "%d", m.Services)
	printStatus("Vulnerabilities", "%d", m.Vulnerabilities)
	printStatus("Exposure", "%s", m.Exposure)
}

// --- ranges ---

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "List monitored IP ranges",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		snap, err := client.snapshot(ctx, id)
		if err != nil {
			return err
		}
		if snap.State.Scale == "" {
			printWarning("No deployment scale selected. Run `sentinel scale <name>` first.")
			return nil
		}
		printRanges(snap.Ranges)
		printMetrics(snap.Metrics)
		if !snap.CanAddRange {
			dimColor.Fprintln(stderr, "Range limit reached for this scale.")
		}
		return nil
	},
}

func printRanges(ranges []rangeView) {
	if len(ranges) == 0 {
		fmt.Fprintln(stdout, "No ranges.")
		return
	}
	for _, r := range ranges {
		fmt.Fprintf(stdout, "%s  %-18s %-24s %-10s %4d devices %3d services %s\n",
			stepColor.Sprint(r.CIDR), r.Name, r.Location, r.Status, r.Devices, r.Services, r.Bandwidth)
	}
}

var rangesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an IP range to monitor",
	Long: `Add an IP range to monitor.

Example:
  sentinel ranges add --name "Branch" --cidr 198.51.100.0/24 --location "Denver, CO" --org "Metro Fiber"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var r rangeView
		r.Name, _ = cmd.Flags().GetString("name")
		r.CIDR, _ = cmd.Flags().GetString("cidr")
		r.Location, _ = cmd.Flags().GetString("location")
		r.Organization, _ = cmd.Flags().GetString("org")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		added, err := client.addRange(ctx, id, r)
		if err != nil {
			return err
		}
		printSuccess("Added %s (%s): %d devices, %d services, %s", added.Name, added.CIDR,
			added.Devices, added.Services, added.Bandwidth)
		return nil
	},
}

var rangesRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Reset network discovery; the scale must be selected again afterwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		if err := client.rescan(ctx, id); err != nil {
			return err
		}
		printStep("Infrastructure rescan initiated")
		return nil
	},
}

var rangesScanningCmd = &cobra.Command{
	Use:   "scanning",
	Short: "Pause or resume auto-scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		active, err := client.toggleScanning(ctx, id)
		if err != nil {
			return err
		}
		if active {
			printSuccess("Auto-scan resumed")
		} else {
			printWarning("Auto-scan paused")
		}
		return nil
	},
}

func init() {
	rangesAddCmd.Flags().String("name", "", "range name")
	rangesAddCmd.Flags().String("cidr", "", "IPv4 range in CIDR notation")
	rangesAddCmd.Flags().String("location", "", "physical location")
	rangesAddCmd.Flags().String("org", "", "owning organization or ISP")
	rangesCmd.AddCommand(rangesAddCmd)
	rangesCmd.AddCommand(rangesRescanCmd)
	rangesCmd.AddCommand(rangesScanningCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage chat sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session and make it current",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		snap, err := client.createSession(cmd.Context())
		if err != nil {
			return err
		}
		if err := writeCurrentSession(client.dataDir, snap.ID); err != nil {
			return fmt.Errorf("saving current session: %w", err)
		}
		printSuccess("Session %s started", snap.ID)
		return nil
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make an existing session current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if _, err := client.snapshot(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := writeCurrentSession(client.dataDir, args[0]); err != nil {
			return fmt.Errorf("saving current session: %w", err)
		}
		printSuccess("Using session %s", args[0])
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sessions, err := client.listSessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(stdout, "No sessions found.")
			return nil
		}
		current := readCurrentSession(client.dataDir)
		for _, s := range sessions {
			marker := " "
			if s.ID == current {
				marker = "*"
			}
			scale := s.State.Scale
			if scale == "" {
				scale = "none"
			}
			mode := "agent"
			if !s.State.AgentActive || s.State.CLIFallback {
				mode = "cli"
			}
			fmt.Fprintf(stdout, "%s %s  %-10s %-5s %s\n", marker, stepColor.Sprint(s.ID), scale, mode,
				s.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current session as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		resp, err := client.get(ctx, sessionPath(id, ""))
		if err != nil {
			return err
		}
		var snap any
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the current session (or delete it with --purge)",
	RunE: func(cmd *cobra.Command, args []string) error {
		purge, _ := cmd.Flags().GetBool("purge")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, false)
		if err != nil {
			return err
		}
		if err := client.resetSession(ctx, id, purge); err != nil {
			return err
		}
		if purge {
			printSuccess("Session %s deleted", id)
		} else {
			printSuccess("Session %s reset", id)
		}
		return nil
	},
}

func init() {
	sessionListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionResetCmd.Flags().Bool("purge", false, "delete the session and its history")
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionUseCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", labelColor.Sprint(k.Key), k.Value)
			if k.FromEnv {
				line += dimColor.Sprintf("  (from %s)", k.EnvVar)
			}
			fmt.Fprintln(stdout, line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
