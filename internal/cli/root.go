// Package cli defines the Cobra commands of portalctl, a terminal client
// for the portal API.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	token      string
	jsonOutput bool
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Command-line client for the client analytics portal",
	Long: `portalctl talks to a running portal API: sign in, inspect your role,
list projects, read execution KPIs and conversations, and switch view mode.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PORTAL_SERVER", ""), "Portal API base URL (default from saved credentials or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PORTAL_TOKEN"), "Access token (default from saved credentials)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(switchModeCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(kpisCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
