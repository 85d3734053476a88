package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel-X: a simulated security operations chat agent",
	Long: `Sentinel-X runs a simulated security operations assistant.

The server holds chat sessions that route input to themed sub-agents
(ThreatScanner, NetworkMapper, ...) and falls back to a CLI command table
when the main agent link drops. Every figure it reports is simulated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("session", "", "session id (default: the current session)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
