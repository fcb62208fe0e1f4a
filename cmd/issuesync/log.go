package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnnynv/issuesync/pkg/logger"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log management commands",
	Long:  "Inspect and rotate the daemon log file configured in app.log_file",
}

var logStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show log statistics",
	Long:  "Display current log file statistics including size and rotation settings",
	Args:  cobra.NoArgs,
	RunE:  runLogStats,
}

var logRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Manually rotate log file",
	Args:  cobra.NoArgs,
	RunE:  runLogRotate,
}

func init() {
	logCmd.AddCommand(logStatsCmd)
	logCmd.AddCommand(logRotateCmd)

	rootCmd.AddCommand(logCmd)
}

// daemonLoggerManager opens the file logger the daemon writes to
func daemonLoggerManager() (*logger.Manager, error) {
	bootstrap, err := newCLILoggerManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger manager: %w", err)
	}
	defer bootstrap.Close()

	_, cfg, err := loadConfig(bootstrap)
	if err != nil {
		return nil, err
	}
	if cfg.App.LogFile == "" {
		return nil, nil
	}

	loggerManager, err := logger.NewManager(loggerConfigFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger manager: %w", err)
	}
	return loggerManager, nil
}

func runLogStats(cmd *cobra.Command, args []string) error {
	loggerManager, err := daemonLoggerManager()
	if err != nil {
		return err
	}
	if loggerManager == nil {
		fmt.Println("Log rotation not enabled (app.log_file is not set)")
		return nil
	}
	defer loggerManager.Close()

	stats, err := loggerManager.GetLogStats()
	if errors.Is(err, logger.ErrRotationUnavailable) {
		fmt.Println("Log rotation not enabled (output is not a file)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get log stats: %w", err)
	}

	fmt.Println(stats.String())
	if stats.NearLimit(0.8) {
		fmt.Printf("Warning: log file is above 80%% of max size (%s of %dMB)\n",
			stats.FormatSize(stats.CurrentSize), stats.MaxSize)
	}

	return nil
}

func runLogRotate(cmd *cobra.Command, args []string) error {
	loggerManager, err := daemonLoggerManager()
	if err != nil {
		return err
	}
	if loggerManager == nil {
		return fmt.Errorf("app.log_file is not set, nothing to rotate")
	}
	defer loggerManager.Close()

	if err := loggerManager.RotateLog(); err != nil {
		return fmt.Errorf("failed to rotate log: %w", err)
	}

	fmt.Println("Log rotation completed")
	return nil
}
