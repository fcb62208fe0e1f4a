package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/johnnynv/issuesync/internal/api"
	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/runtime"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

const defaultConfigFile = "./issuesync.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "IssueSync - GitHub issue synchronization",
	Long: `IssueSync keeps a local issue store and GitHub repositories in step.

Each project is bound to one repository. Issues, labels, milestones and
comments are pulled, pushed or synchronized in both directions, either on
demand or on the per-binding autoSync schedule.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	api.SetBuildInfo(Version, BuildTime, GitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default is "+defaultConfigFile+", env ISSUESYNC_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level for CLI commands (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format for CLI commands (json, text)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("ISSUESYNC") // ISSUESYNC_CONFIG, ISSUESYNC_LOG_LEVEL, ...
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// configPath resolves --config, then ISSUESYNC_CONFIG, then the default
func configPath() string {
	if path := viper.GetString("config"); path != "" {
		return path
	}
	return defaultConfigFile
}

// newCLILoggerManager builds the logger used by one-shot commands. It writes
// to stderr so command output stays parseable.
func newCLILoggerManager() (*logger.Manager, error) {
	return logger.NewManager(logger.Config{
		Level:  viper.GetString("log_level"),
		Format: viper.GetString("log_format"),
		Output: "stderr",
	})
}

// loadConfig loads and validates the configuration file
func loadConfig(loggerManager *logger.Manager) (*config.Manager, *types.Config, error) {
	configManager := config.NewManager(loggerManager.GetRootLogger())
	if err := configManager.Load(configPath()); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.Get()
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration is nil after loading")
	}
	return configManager, cfg, nil
}

// localRuntime is an in-process runtime for one-shot commands: storage,
// GitHub clients and the sync service, without scheduler, API or seeds.
type localRuntime struct {
	rm            *runtime.RuntimeManager
	loggerManager *logger.Manager
}

func openLocalRuntime(ctx context.Context) (*localRuntime, error) {
	loggerManager, err := newCLILoggerManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger manager: %w", err)
	}

	_, cfg, err := loadConfig(loggerManager)
	if err != nil {
		loggerManager.Close()
		return nil, err
	}

	disabled := false
	cfg.Scheduler.Enabled = &disabled
	cfg.App.HealthCheckPort = 0
	cfg.Bindings = nil

	rm, err := runtime.NewDefaultRuntimeFactory().CreateRuntimeWithOptions(cfg, runtime.Options{
		LoggerManager: loggerManager,
	})
	if err != nil {
		loggerManager.Close()
		return nil, err
	}

	if err := rm.Start(ctx); err != nil {
		loggerManager.Close()
		return nil, err
	}

	return &localRuntime{rm: rm, loggerManager: loggerManager}, nil
}

func (l *localRuntime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = l.rm.Stop(ctx)
	_ = l.loggerManager.Close()
}

// commandContext returns the command's context, cancelled on interrupt
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
