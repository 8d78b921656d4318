package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Show the resolved role and view mode",
	RunE:  runRole,
}

var switchModeCmd = &cobra.Command{
	Use:       "switch-mode admin|client",
	Short:     "Switch the dashboard view mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(domain.ViewModeAdmin), string(domain.ViewModeClient)},
	RunE:      runSwitchMode,
}

func runRole(cmd *cobra.Command, args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	var state domain.RoleState
	raw, err := client.getJSON(cmd.Context(), "/v1/role", nil, &state)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd, raw)
	}
	printRole(cmd, state)
	return nil
}

func runSwitchMode(cmd *cobra.Command, args []string) error {
	if _, ok := domain.ParseViewMode(args[0]); !ok {
		return fmt.Errorf("mode must be 'admin' or 'client'")
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	raw, err := client.do(cmd.Context(), http.MethodPut, "/v1/role/view-mode", nil, domain.ViewModeRequest{Mode: args[0]})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd, raw)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "View mode: %s\n", args[0])
	return nil
}

func printRole(cmd *cobra.Command, s domain.RoleState) {
	out := cmd.OutOrStdout()
	if !s.HasAccess() {
		fmt.Fprintln(out, "No profile: access is limited until an administrator sets one up.")
		return
	}
	fmt.Fprintf(out, "Email:        %s\n", s.Profile.Email)
	fmt.Fprintf(out, "Role:         %s\n", s.Profile.Role)
	fmt.Fprintf(out, "View mode:    %s (effective %s)\n", s.ViewMode, s.EffectiveMode())
	fmt.Fprintf(out, "Can switch:   %t\n", s.CanSwitchRoles)
	project := s.AssignedProjectID
	if project == "" {
		project = "-"
	}
	fmt.Fprintf(out, "Project:      %s\n", project)
}
