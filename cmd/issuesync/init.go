package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init [config-file]",
	Short: "Create a starter configuration file",
	Long: `Write a configuration file with every default spelled out.

With --project and --repo a binding seed is added whose token is read from
${GITHUB_TOKEN} at load time, so the file never holds a secret.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initForce     bool
	initProjectID string
	initRepo      string
	initDataDir   string
	initPort      int
)

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	initCmd.Flags().StringVar(&initProjectID, "project", "", "Project ID for a binding seed")
	initCmd.Flags().StringVar(&initRepo, "repo", "", "owner/name for the binding seed")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "./data", "Data directory")
	initCmd.Flags().IntVar(&initPort, "port", 8080, "API server port")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if len(args) > 0 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg, err := starterConfig()
	if err != nil {
		return err
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, yamlBytes, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Printf("Configuration file created: %s\n\n", path)
	fmt.Printf("Next steps:\n")
	if len(cfg.Bindings) > 0 {
		fmt.Printf("  1. export GITHUB_TOKEN=<token with repo scope>\n")
	} else {
		fmt.Printf("  1. Bind a project: issuesync configure owner/name --project <id> --config %s\n", path)
	}
	fmt.Printf("  2. Validate: issuesync config validate --check-env --config %s\n", path)
	fmt.Printf("  3. Start:    issuesync run --config %s\n", path)
	return nil
}

// starterConfig builds the defaulted configuration written by init
func starterConfig() (*types.Config, error) {
	cfg := &types.Config{
		App: types.AppConfig{
			DataDir:         initDataDir,
			HealthCheckPort: initPort,
		},
	}

	if initProjectID != "" || initRepo != "" {
		if initProjectID == "" || initRepo == "" {
			return nil, fmt.Errorf("--project and --repo must be given together")
		}
		owner, name, err := parseRepository(initRepo)
		if err != nil {
			return nil, err
		}
		cfg.Bindings = []types.BindingSeed{{
			ProjectID: initProjectID,
			Owner:     owner,
			Name:      name,
			Token:     "${GITHUB_TOKEN}",
		}}
	}

	config.ApplyDefaults(cfg)

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("generated configuration is invalid: %w", err)
	}
	return cfg, nil
}
