package cli

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"
)

const contentPreview = 80

var (
	selectProject string
	rangeFrom     string
	rangeTo       string
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects you can select",
	RunE:  runProjects,
}

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Show execution KPIs for a project and date range",
	Long: `Show the KPI summary of executions. Without --project every
project of the account is aggregated (admins) or the assigned project is
used (clients). Dates are YYYY-MM-DD and default to the last 30 days.`,
	RunE: runKPIs,
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List recent conversations grouped by session",
	RunE:  runConversations,
}

func init() {
	for _, c := range []*cobra.Command{kpisCmd, conversationsCmd} {
		c.Flags().StringVar(&selectProject, "project", domain.AllProjects, "Project id or 'all'")
	}
	kpisCmd.Flags().StringVar(&rangeFrom, "from", "", "First day (YYYY-MM-DD)")
	kpisCmd.Flags().StringVar(&rangeTo, "to", "", "Last day (YYYY-MM-DD)")
}

func runProjects(cmd *cobra.Command, args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	var projects []domain.Project
	raw, err := client.getJSON(cmd.Context(), "/v1/projects", nil, &projects)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd, raw)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects available.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTABLE")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Table())
	}
	return w.Flush()
}

func runKPIs(cmd *cobra.Command, args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	q := url.Values{"project": {selectProject}}
	if rangeFrom != "" {
		q.Set("from", rangeFrom)
	}
	if rangeTo != "" {
		q.Set("to", rangeTo)
	}

	var res domain.ExecutionResult
	raw, err := client.getJSON(cmd.Context(), "/v1/executions", q, &res)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd, raw)
	}

	out := cmd.OutOrStdout()
	k := res.KPIs
	fmt.Fprintf(out, "Total processed:  %d\n", k.TotalProcessed)
	fmt.Fprintf(out, "Success rate:     %.1f%%\n", k.SuccessRate)
	fmt.Fprintf(out, "Failed:           %d\n", k.FailedOps)
	fmt.Fprintf(out, "Avg duration:     %.0f ms\n", k.AvgProcessingTime)
	fmt.Fprintf(out, "Data volume:      %.1f MB (estimate)\n", k.DataVolume)
	fmt.Fprintf(out, "Last update:      %s\n", k.LastUpdate.Format("2006-01-02 15:04"))
	for _, s := range res.Sources {
		if s.Error != "" {
			fmt.Fprintf(out, "warning: %s unavailable: %s\n", s.Table, s.Error)
		}
	}
	if res.Partial {
		fmt.Fprintln(out, "warning: partial data, some sources failed")
	}
	return nil
}

func runConversations(cmd *cobra.Command, args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	var resp domain.ConversationsResponse
	raw, err := client.getJSON(cmd.Context(), "/v1/conversations", url.Values{"project": {selectProject}}, &resp)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd, raw)
	}

	out := cmd.OutOrStdout()
	if len(resp.Groups) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	for _, g := range resp.Groups {
		fmt.Fprintf(out, "== %s (%d messages)\n", g.SessionID, len(g.Messages))
		for _, m := range g.Messages {
			p := service.ParseMessage(m.Message)
			fmt.Fprintf(out, "  [%s] %s\n", p.Type, preview(p.Content))
		}
	}
	return nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > contentPreview {
		return string(r[:contentPreview-1]) + "…"
	}
	return s
}

func authedClient() (*apiClient, error) {
	server, accessToken := resolveSession()
	if accessToken == "" {
		return nil, fmt.Errorf("not signed in; run: portalctl login")
	}
	return newAPIClient(server, accessToken), nil
}

func printRaw(cmd *cobra.Command, raw []byte) error {
	_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(raw)))
	return err
}
