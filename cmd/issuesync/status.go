package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnnynv/issuesync/internal/api"
	"github.com/johnnynv/issuesync/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status of a project or health of a running daemon",
	Long: `With --project, print the binding, issue counters and live rate limit of
one project from the local store. Without it, query the /health and /status
endpoints of a running daemon.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusProjectID string
	statusPort      int
	statusHost      string
	statusFormat    string
	statusTimeout   time.Duration
)

func init() {
	statusCmd.Flags().StringVarP(&statusProjectID, "project", "p", "", "Project ID (local store)")
	statusCmd.Flags().IntVar(&statusPort, "port", 8080, "Daemon API port")
	statusCmd.Flags().StringVar(&statusHost, "host", "localhost", "Daemon host")
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format (text, json)")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Daemon request timeout")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusProjectID != "" {
		return runProjectStatus(cmd)
	}
	return runDaemonStatus()
}

func runProjectStatus(cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	local, err := openLocalRuntime(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	report, err := local.rm.GetService().GetSyncStatus(ctx, statusProjectID)
	if err != nil {
		return fmt.Errorf("failed to get sync status: %w", err)
	}

	if statusFormat == "json" {
		return printJSON(report)
	}
	printSyncStatus(report)
	return nil
}

func printSyncStatus(report *types.SyncStatusReport) {
	if b := report.Repository; b != nil {
		fmt.Printf("Project:    %s\n", b.ProjectID)
		fmt.Printf("Repository: %s\n", b.FullName)
		fmt.Printf("Token:      %s\n", b.TokenHint)
		fmt.Printf("Active:     %t\n", b.IsActive)
		fmt.Printf("autoSync:   %t (every %ds)\n", b.AutoSync, b.SyncInterval)
	}

	lastSync := "never"
	if report.Sync.LastSyncAt != nil {
		lastSync = report.Sync.LastSyncAt.Local().Format("2006-01-02 15:04:05")
	}

	fmt.Println()
	fmt.Printf("Issues:     %d total, %d synced, %d pending, %d failed, %d not synced\n",
		report.Sync.TotalIssues, report.Sync.SyncedIssues, report.Sync.PendingSync,
		report.Sync.FailedSync, report.Sync.NotSynced)
	fmt.Printf("Last sync:  %s\n", lastSync)
	fmt.Printf("Running:    %t\n", report.Running)

	if rl := report.RateLimit; rl != nil {
		fmt.Printf("Rate limit: %d/%d remaining, resets %s\n",
			rl.Remaining, rl.Limit, rl.ResetTime().Local().Format("15:04:05"))
	}
}

// envelope mirrors api.Response with the payload left undecoded
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func runDaemonStatus() error {
	baseURL := fmt.Sprintf("http://%s:%d", statusHost, statusPort)
	client := &http.Client{Timeout: statusTimeout}

	var health api.RuntimeHealthStatus
	healthCode, err := getJSON(client, baseURL+"/health", &health)
	if err != nil {
		if statusFormat == "json" {
			_ = printJSON(map[string]interface{}{
				"status":  "unreachable",
				"error":   err.Error(),
				"healthy": false,
			})
		} else {
			fmt.Printf("IssueSync is not reachable at %s\n", baseURL)
			fmt.Printf("Error: %v\n", err)
		}
		return fmt.Errorf("service unreachable: %w", err)
	}

	var status api.RuntimeStatus
	if _, err := getJSON(client, baseURL+"/status", &status); err != nil {
		status.State = "unknown"
	}

	if statusFormat == "json" {
		return printJSON(map[string]interface{}{
			"health": health,
			"system": status,
		})
	}

	printDaemonStatus(health, status)
	if healthCode != http.StatusOK {
		return fmt.Errorf("daemon is unhealthy")
	}
	return nil
}

func getJSON(client *http.Client, url string, dst interface{}) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("invalid response from %s: %w", url, err)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return resp.StatusCode, fmt.Errorf("invalid response data from %s: %w", url, err)
		}
	}
	return resp.StatusCode, nil
}

func printDaemonStatus(health api.RuntimeHealthStatus, status api.RuntimeStatus) {
	overall := "healthy"
	if !health.Healthy {
		overall = "UNHEALTHY"
	}

	fmt.Printf("IssueSync %s: %s\n", status.Version, overall)
	fmt.Printf("State:  %s\n", status.State)
	if status.Uptime > 0 {
		fmt.Printf("Uptime: %s\n", status.Uptime.Round(time.Second))
	}

	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATE\tHEALTH\tUPTIME\tLAST ERROR")
	for _, name := range names {
		c := status.Components[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, c.State, c.Health, c.Uptime.Round(time.Second), c.LastError)
	}
	w.Flush()

	for _, check := range health.Checks {
		if check.Error != "" {
			fmt.Printf("\n%s: %s\n", check.Name, check.Error)
		}
	}
}
