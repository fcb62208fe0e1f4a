package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnnynv/issuesync/pkg/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a synchronization for a project",
	Long: `Run one synchronization between the local store and the bound GitHub
repository. The run fails with a conflict if another run for the same
project is in progress.`,
}

var syncFromGitHubCmd = &cobra.Command{
	Use:   "from-github",
	Short: "Pull issues from GitHub into the local store",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(types.DirectionGitHubToLocal),
}

var syncToGitHubCmd = &cobra.Command{
	Use:   "to-github",
	Short: "Push local issues to GitHub",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(types.DirectionLocalToGitHub),
}

var syncBidirectionalCmd = &cobra.Command{
	Use:   "bidirectional",
	Short: "Synchronize in both directions, newer side wins",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(types.DirectionBidirectional),
}

var (
	syncProjectID    string
	syncDryRun       bool
	syncNoLabels     bool
	syncNoComments   bool
	syncNoMilestones bool
	syncFormat       string
	syncVerbose      bool
)

func init() {
	for _, cmd := range []*cobra.Command{syncFromGitHubCmd, syncToGitHubCmd, syncBidirectionalCmd} {
		cmd.Flags().StringVarP(&syncProjectID, "project", "p", "", "Project ID")
		cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Classify issues without writing to either side")
		cmd.Flags().BoolVar(&syncNoLabels, "no-labels", false, "Skip label synchronization")
		cmd.Flags().BoolVar(&syncNoComments, "no-comments", false, "Skip comment synchronization")
		cmd.Flags().BoolVar(&syncNoMilestones, "no-milestones", false, "Skip milestone synchronization")
		cmd.Flags().StringVar(&syncFormat, "format", "text", "Output format (text, json)")
		cmd.Flags().BoolVarP(&syncVerbose, "verbose", "v", false, "List the outcome of every issue")
		cmd.MarkFlagRequired("project")
		syncCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(syncCmd)
}

// syncOptions builds the run options from the command flags
func syncOptions(direction types.SyncDirection) types.SyncOptions {
	opts := types.DefaultSyncOptions(direction)
	opts.DryRun = syncDryRun
	opts.SyncLabels = !syncNoLabels
	opts.SyncComments = !syncNoComments
	opts.SyncMilestones = !syncNoMilestones
	return opts
}

func syncRunner(direction types.SyncDirection) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		local, err := openLocalRuntime(ctx)
		if err != nil {
			return err
		}
		defer local.Close()

		result, err := runSync(ctx, local, syncProjectID, syncOptions(direction))
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		if syncFormat == "json" {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			printSyncResult(result, syncVerbose)
		}

		if !result.Success {
			return fmt.Errorf("sync finished with %d error(s)", len(result.Errors))
		}
		return nil
	}
}

func runSync(ctx context.Context, local *localRuntime, projectID string, opts types.SyncOptions) (*types.SyncResult, error) {
	svc := local.rm.GetService()
	switch opts.Direction {
	case types.DirectionGitHubToLocal:
		return svc.SyncFromGitHub(ctx, projectID, opts)
	case types.DirectionLocalToGitHub:
		return svc.SyncToGitHub(ctx, projectID, opts)
	default:
		return svc.SyncBidirectional(ctx, projectID, opts)
	}
}

func printSyncResult(result *types.SyncResult, verbose bool) {
	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	mode := ""
	if result.DryRun {
		mode = " (dry run)"
	}

	fmt.Printf("Sync %s%s: %s\n", result.Direction, mode, status)
	fmt.Printf("Created: %d  Updated: %d  Skipped: %d  Synced: %d\n",
		result.Created, result.Updated, result.Skipped, result.Synced)
	fmt.Printf("Duration: %s\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	if verbose && len(result.Outcomes) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ISSUE\tGITHUB\tCLASSIFICATION\tACTION\tTITLE")
		for _, o := range result.Outcomes {
			number := "-"
			if o.GitHubNumber > 0 {
				number = fmt.Sprintf("#%d", o.GitHubNumber)
			}
			issueID := o.IssueID
			if issueID == "" {
				issueID = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", issueID, number, o.Classification, o.Action, o.Title)
		}
		w.Flush()
	}

	if len(result.Errors) > 0 {
		fmt.Println()
		fmt.Println("Errors:")
		for _, e := range result.Errors {
			fmt.Printf("  %s [%s]: %s\n", e.Entity, e.Kind, e.Message)
		}
	}
}
