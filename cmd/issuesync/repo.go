package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/johnnynv/issuesync/pkg/types"
)

var validateRepoCmd = &cobra.Command{
	Use:   "validate <owner/name>",
	Short: "Check access to a GitHub repository",
	Long: `Check that the token can see the repository and report its permissions
and the current rate limit. Nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateRepo,
}

var configureRepoCmd = &cobra.Command{
	Use:   "configure <owner/name>",
	Short: "Bind a project to a GitHub repository",
	Long: `Validate the credentials and save the binding for a project.
An existing binding for the project is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigureRepo,
}

var unbindRepoCmd = &cobra.Command{
	Use:   "unbind",
	Short: "Remove a project's repository binding",
	Long:  "Delete the binding. Local issues are kept.",
	Args:  cobra.NoArgs,
	RunE:  runUnbindRepo,
}

var (
	repoProjectID string
	repoToken     string
	repoAutoSync  bool
	repoInterval  int
	repoFormat    string
)

func init() {
	for _, cmd := range []*cobra.Command{validateRepoCmd, configureRepoCmd, unbindRepoCmd} {
		cmd.Flags().StringVarP(&repoProjectID, "project", "p", "", "Project ID")
		cmd.MarkFlagRequired("project")
	}

	for _, cmd := range []*cobra.Command{validateRepoCmd, configureRepoCmd} {
		cmd.Flags().StringVar(&repoToken, "token", "", "GitHub access token (env ISSUESYNC_TOKEN, prompted when omitted)")
		cmd.Flags().StringVar(&repoFormat, "format", "text", "Output format (text, json)")
	}

	configureRepoCmd.Flags().BoolVar(&repoAutoSync, "auto-sync", true, "Enable scheduled bidirectional sync")
	configureRepoCmd.Flags().IntVar(&repoInterval, "interval", 0, "autoSync interval in seconds (60-86400, default from config)")

	rootCmd.AddCommand(validateRepoCmd)
	rootCmd.AddCommand(configureRepoCmd)
	rootCmd.AddCommand(unbindRepoCmd)
}

func runValidateRepo(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepository(args[0])
	if err != nil {
		return err
	}
	token, err := resolveToken()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	local, err := openLocalRuntime(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	result, err := local.rm.GetService().ValidateRepository(ctx, repoProjectID, types.ValidateRequest{
		Owner:       owner,
		Name:        name,
		AccessToken: token,
	})
	if result == nil {
		result = &types.ValidationResult{}
	}
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	}

	if repoFormat == "json" {
		if jsonErr := printJSON(result); jsonErr != nil {
			return jsonErr
		}
	} else {
		printValidationText(owner+"/"+name, result)
	}

	if err != nil {
		return fmt.Errorf("repository validation failed: %w", err)
	}
	return nil
}

func runConfigureRepo(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepository(args[0])
	if err != nil {
		return err
	}
	token, err := resolveToken()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	local, err := openLocalRuntime(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	svc := local.rm.GetService()
	if _, err := svc.ValidateRepository(ctx, repoProjectID, types.ValidateRequest{
		Owner:       owner,
		Name:        name,
		AccessToken: token,
	}); err != nil {
		return fmt.Errorf("repository validation failed: %w", err)
	}

	input := types.BindingInput{
		Owner:        owner,
		Name:         name,
		AccessToken:  token,
		SyncInterval: repoInterval,
	}
	if cmd.Flags().Changed("auto-sync") {
		autoSync := repoAutoSync
		input.AutoSync = &autoSync
	}

	binding, err := svc.ConfigureRepository(ctx, repoProjectID, input)
	if err != nil {
		return fmt.Errorf("failed to configure repository: %w", err)
	}

	if repoFormat == "json" {
		return printJSON(binding)
	}

	fmt.Printf("Project %s is bound to %s\n", binding.ProjectID, binding.FullName)
	fmt.Printf("Token: %s\n", binding.TokenHint)
	fmt.Printf("autoSync: %t (every %ds)\n", binding.AutoSync, binding.SyncInterval)
	return nil
}

func runUnbindRepo(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	local, err := openLocalRuntime(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	if err := local.rm.GetService().DeleteRepository(ctx, repoProjectID); err != nil {
		return fmt.Errorf("failed to unbind project %s: %w", repoProjectID, err)
	}

	fmt.Printf("Project %s unbound\n", repoProjectID)
	return nil
}

// parseRepository splits "owner/name"
func parseRepository(arg string) (string, string, error) {
	arg = strings.TrimSuffix(strings.TrimSpace(arg), ".git")
	arg = strings.TrimPrefix(arg, "https://github.com/")
	parts := strings.Split(arg, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be given as owner/name, got %q", arg)
	}
	return parts[0], parts[1], nil
}

// resolveToken takes --token, then ISSUESYNC_TOKEN, then prompts when stdin
// is a terminal
func resolveToken() (string, error) {
	if repoToken != "" {
		return repoToken, nil
	}
	if token := viper.GetString("token"); token != "" {
		return token, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("no token given: use --token or ISSUESYNC_TOKEN")
	}
	return readSensitiveInput("GitHub access token: ")
}

// readSensitiveInput reads a token without echoing it
func readSensitiveInput(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("error reading input: %w", err)
	}

	token := strings.TrimSpace(string(bytePassword))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func printValidationText(repository string, result *types.ValidationResult) {
	if !result.Valid {
		fmt.Printf("Repository %s: INVALID\n", repository)
		if result.Error != "" {
			fmt.Printf("Error: %s\n", result.Error)
		}
		return
	}

	fmt.Printf("Repository %s: OK\n", repository)
	if r := result.Repository; r != nil {
		fmt.Printf("URL: %s\n", r.HTMLURL)
		fmt.Printf("Private: %t\n", r.Private)
	}
	if p := result.Permissions; p != nil {
		fmt.Printf("Permissions: admin=%t push=%t pull=%t\n", p.Admin, p.Push, p.Pull)
	}
	if rl := result.RateLimit; rl != nil {
		fmt.Printf("Rate limit: %d/%d remaining, resets %s\n", rl.Remaining, rl.Limit, rl.ResetTime().Format("15:04:05"))
	}
}

func printJSON(v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}
