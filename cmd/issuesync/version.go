package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnnynv/issuesync/internal/api"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the build version, API generation and supported sync directions",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringP("output", "o", "text", "output format (text, json)")
}

// currentBuildInfo is what both `issuesync version` and GET /api/v1/version report
func currentBuildInfo() api.BuildVersion {
	api.SetBuildInfo(Version, BuildTime, GitCommit)
	return api.GetVersion()
}

func runVersion(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	info := currentBuildInfo()

	if output == "json" {
		return printJSON(info)
	}

	directions := make([]string, len(info.Directions))
	for i, d := range info.Directions {
		directions[i] = string(d)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "IssueSync %s (API %s)\n", info.App, info.API)
	fmt.Fprintf(out, "Build Time: %s\n", info.Build)
	fmt.Fprintf(out, "Git Commit: %s\n", info.Commit)
	fmt.Fprintf(out, "Go: %s\n", info.Runtime)
	fmt.Fprintf(out, "Sync directions: %s\n", strings.Join(directions, ", "))
	return nil
}
