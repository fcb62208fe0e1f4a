package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/notify"
	"github.com/johnnynv/issuesync/internal/runtime"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect and validate IssueSync configuration files",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Display the configuration after ${VAR} expansion and defaults. Tokens are masked. A missing file shows the built-in defaults.",
	Args:  cobra.NoArgs,
	RunE:  runShowConfig,
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an IssueSync configuration file",
	Long: `Validate the syntax and content of an IssueSync configuration file.

This command checks:
- YAML syntax
- Required fields and value ranges
- Binding seeds (unique project IDs, owner/name format, sync interval)
- Unresolved ${VAR} references in seed tokens (--check-env)
- Access to every seeded repository and the notify webhook (--check-connections)`,
	Args: cobra.NoArgs,
	RunE: runValidateConfig,
}

var (
	showFormat          string
	showSecrets         bool
	validateEnvironment bool
	validateConnections bool
	validateFormat      string
)

func init() {
	showConfigCmd.Flags().StringVar(&showFormat, "format", "yaml", "Output format (yaml, json)")
	showConfigCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Show binding seed tokens")

	validateConfigCmd.Flags().BoolVar(&validateEnvironment, "check-env", false, "Report seed tokens whose environment variable is not set")
	validateConfigCmd.Flags().BoolVar(&validateConnections, "check-connections", false, "Check GitHub access for every binding seed")
	validateConfigCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format (text, json)")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(validateConfigCmd)

	rootCmd.AddCommand(configCmd)
}

// runShowConfig prints defaults when the file does not exist yet
func runShowConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadWithDefaults(configPath())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !showSecrets {
		cfg = maskSensitiveData(cfg)
	}

	switch showFormat {
	case "json":
		return printJSON(cfg)
	case "yaml":
		yamlBytes, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(yamlBytes))
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", showFormat)
	}
}

// maskSensitiveData returns a copy with seed tokens replaced by their hint
func maskSensitiveData(cfg *types.Config) *types.Config {
	result := *cfg
	result.Bindings = make([]types.BindingSeed, len(cfg.Bindings))
	for i, seed := range cfg.Bindings {
		seed.Token = types.TokenHint(seed.Token)
		result.Bindings[i] = seed
	}
	result.Notify.AuthToken = types.TokenHint(cfg.Notify.AuthToken)
	return &result
}

// configReport is the outcome of config validate
type configReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	path := configPath()
	loggerManager, err := newCLILoggerManager()
	if err != nil {
		return fmt.Errorf("failed to initialize logger manager: %w", err)
	}
	defer loggerManager.Close()
	appLogger := loggerManager.GetRootLogger()

	appLogger.WithFields(logger.Fields{
		"config_file":       path,
		"check_environment": validateEnvironment,
		"check_connections": validateConnections,
	}).Debug("Starting configuration validation")

	report := &configReport{File: path, Errors: []string{}, Warnings: []string{}}

	configManager := config.NewManager(appLogger)
	if err := configManager.Load(path); err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				report.Errors = append(report.Errors, v.Field+": "+v.Message)
			}
		} else {
			report.Errors = append(report.Errors, err.Error())
		}
		return finishConfigReport(report, nil)
	}
	cfg := configManager.Get()

	if validateEnvironment {
		if err := configManager.CheckTokens(); err != nil {
			report.Warnings = append(report.Warnings, err.Error())
		}
	}

	if _, err := config.NewLoader().Strict().LoadFromFile(path); err != nil {
		report.Warnings = append(report.Warnings, "unknown keys: "+err.Error())
	}
	report.Warnings = append(report.Warnings, performBasicChecks(cfg)...)

	if validateConnections {
		ctx, cancel := context.WithTimeout(commandContext(cmd), 2*time.Minute)
		defer cancel()
		report.Errors = append(report.Errors, checkSeedConnectivity(ctx, cfg, appLogger.WithComponent("cli"))...)
		if err := checkNotifyEndpoint(ctx, cfg, appLogger.WithComponent("cli")); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	return finishConfigReport(report, cfg)
}

// performBasicChecks returns warnings for settings that are legal but risky
func performBasicChecks(cfg *types.Config) []string {
	var warnings []string

	if len(cfg.Bindings) == 0 {
		warnings = append(warnings, "No binding seeds configured; bindings must be created through the API or CLI")
	}

	if cfg.Scheduler.IsEnabled() && cfg.Scheduler.Tick > time.Duration(types.MinSyncInterval)*time.Second {
		warnings = append(warnings, fmt.Sprintf("scheduler.tick %s is longer than the minimum sync interval; short intervals will run late", cfg.Scheduler.Tick))
	}

	if cfg.GitHub.RateLimitMargin == 0 {
		warnings = append(warnings, "github.rate_limit_margin is 0; runs may exhaust the quota shared with other tools")
	}

	if cfg.Notify.Enabled && cfg.Notify.InsecureSkipVerify {
		warnings = append(warnings, "notify.insecure_skip_verify is set; webhook TLS certificates are not checked")
	}

	if cfg.Storage.SQLite.MaxConnections > 100 {
		warnings = append(warnings, "SQLite max connections is very high, consider reducing for better performance")
	}

	return warnings
}

// checkSeedConnectivity fetches every seeded repository with its token
func checkSeedConnectivity(ctx context.Context, cfg *types.Config, log *logger.Entry) []string {
	var problems []string
	clients := runtime.NewClientFactory(cfg.GitHub, log)

	for _, seed := range cfg.Bindings {
		client, err := clients.CreateClient(seed.Owner, seed.Name, seed.Token)
		if err != nil {
			problems = append(problems, fmt.Sprintf("binding %s: %v", seed.ProjectID, err))
			continue
		}
		if _, err := client.GetRepository(ctx); err != nil {
			problems = append(problems, fmt.Sprintf("binding %s (%s/%s): %v", seed.ProjectID, seed.Owner, seed.Name, err))
		}
	}
	return problems
}

// checkNotifyEndpoint probes the sync event webhook when it is enabled
func checkNotifyEndpoint(ctx context.Context, cfg *types.Config, log *logger.Entry) error {
	if !cfg.Notify.Enabled {
		return nil
	}
	webhook, err := notify.NewWebhookNotifier(cfg.Notify, cfg.GitHub.UserAgent, log)
	if err != nil {
		return err
	}
	defer webhook.Close()
	if err := webhook.HealthCheck(ctx); err != nil {
		return fmt.Errorf("notify webhook %s: %w", cfg.Notify.URL, err)
	}
	return nil
}

func finishConfigReport(report *configReport, cfg *types.Config) error {
	report.Valid = len(report.Errors) == 0

	if validateFormat == "json" {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printConfigReportText(report, cfg)
	}

	if !report.Valid {
		return fmt.Errorf("configuration validation failed with %d error(s)", len(report.Errors))
	}
	return nil
}

func printConfigReportText(report *configReport, cfg *types.Config) {
	if report.Valid {
		fmt.Printf("Configuration validation PASSED\n\n")
	} else {
		fmt.Printf("Configuration validation FAILED\n\n")
	}

	fmt.Printf("File: %s\n", report.File)
	if cfg != nil {
		fmt.Printf("App: %s\n", cfg.App.Name)
		fmt.Printf("Storage: %s (%s)\n", cfg.Storage.Type, cfg.Storage.SQLite.Path)
		fmt.Printf("GitHub: %s\n", cfg.GitHub.BaseURL)
		fmt.Printf("Binding seeds: %d\n", len(cfg.Bindings))
		fmt.Printf("Scheduler: %t (tick %s)\n", cfg.Scheduler.IsEnabled(), cfg.Scheduler.Tick)
		if cfg.Notify.Enabled {
			fmt.Printf("Notify: %s\n", cfg.Notify.URL)
		}
	}
	fmt.Println()

	if len(report.Errors) > 0 {
		fmt.Printf("Errors:\n")
		for _, e := range report.Errors {
			fmt.Printf("  - %s\n", e)
		}
		fmt.Println()
	}

	if len(report.Warnings) > 0 {
		fmt.Printf("Warnings:\n")
		for _, w := range report.Warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}
}
