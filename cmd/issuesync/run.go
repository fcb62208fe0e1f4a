package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnnynv/issuesync/internal/config"
	"github.com/johnnynv/issuesync/internal/runtime"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the IssueSync daemon",
	Long: `Start the IssueSync daemon with the specified configuration.
This starts storage, the GitHub clients, the sync service (applying the
binding seeds from the config file), the autoSync scheduler and the HTTP API.

SIGHUP reloads the binding seeds and the schedule. SIGINT and SIGTERM stop
the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runIssueSync,
}

var (
	runLogLevel   string
	runLogFile    string
	runHealthPort int
	runPIDFile    string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runLogLevel, "log-level", "l", "", "Log level (overrides app.log_level)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Log file path (overrides app.log_file)")
	runCmd.Flags().IntVar(&runHealthPort, "health-port", -1, "API server port, 0 disables it (overrides app.health_check_port)")
	runCmd.Flags().StringVar(&runPIDFile, "pid-file", "", "Write the process ID to this file")
}

func runIssueSync(cmd *cobra.Command, args []string) error {
	// Load configuration with a bootstrap logger, then build the real one
	bootstrap, err := newCLILoggerManager()
	if err != nil {
		return fmt.Errorf("failed to initialize logger manager: %w", err)
	}
	configManager, cfg, err := loadConfig(bootstrap)
	bootstrap.Close()
	if err != nil {
		return err
	}
	overrideConfigFromFlags(cmd, cfg)
	configManager.SetConfig(cfg)

	loggerManager, err := logger.NewManager(loggerConfigFor(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger manager: %w", err)
	}
	defer loggerManager.Close()

	startupCtx := logger.WithContext(context.Background(), logger.LogContext{
		Component: "app",
		Module:    "startup",
		Operation: "run",
	})
	startupLogger := loggerManager.WithGoContext(startupCtx)
	startupLogger.WithFields(logger.Fields{
		"config":      configManager.GetConfigPath(),
		"log_level":   cfg.App.LogLevel,
		"bindings":    len(cfg.Bindings),
		"scheduler":   cfg.Scheduler.IsEnabled(),
		"health_port": cfg.App.HealthCheckPort,
	}).Info("Starting IssueSync")

	if err := configManager.CheckTokens(); err != nil {
		startupLogger.WithError(err).Warn("Some binding seeds have unresolved tokens and will fail validation")
	}

	if runPIDFile != "" {
		if err := writePIDFile(runPIDFile); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer removePIDFile(runPIDFile, startupLogger)
	}

	rt, err := runtime.NewDefaultRuntimeFactory().CreateRuntimeWithOptions(cfg, runtime.Options{
		LoggerManager: loggerManager,
		ConfigManager: configManager,
	})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}

	return serve(rt, configManager, startupLogger)
}

// serve runs the runtime until SIGINT or SIGTERM
func serve(rt runtime.Runtime, configManager *config.Manager, startupLogger *logger.Entry) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("runtime start failed: %w", err)
	}

	startupLogger.WithFields(logger.Fields{
		"operation": "running",
	}).Info("IssueSync is running")

	for sig := range sigChan {
		startupLogger.WithFields(logger.Fields{
			"signal": sig.String(),
		}).Info("Received signal")

		if sig == syscall.SIGHUP {
			if err := rt.Reload(ctx); err != nil {
				startupLogger.WithError(err).Error("Failed to reload runtime")
				continue
			}
			if err := configManager.CheckTokens(); err != nil {
				startupLogger.WithError(err).Warn("Some binding seeds have unresolved tokens")
			}
			continue
		}

		startupLogger.Info("Initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := rt.Stop(shutdownCtx)
		shutdownCancel()
		if err != nil {
			startupLogger.WithError(err).Error("Error during shutdown")
			return fmt.Errorf("runtime stop failed: %w", err)
		}

		startupLogger.Info("IssueSync stopped successfully")
		return nil
	}
	return nil
}

// loggerConfigFor derives the daemon logger from app settings and flags
func loggerConfigFor(cfg *types.Config) logger.Config {
	return config.LoggerConfigFor(cfg)
}

func overrideConfigFromFlags(cmd *cobra.Command, cfg *types.Config) {
	if runLogLevel != "" {
		cfg.App.LogLevel = runLogLevel
	}
	if runLogFile != "" {
		cfg.App.LogFile = runLogFile
	}
	if cmd.Flags().Changed("health-port") && runHealthPort >= 0 {
		cfg.App.HealthCheckPort = runHealthPort
	}
}

func writePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && processAlive(pid) {
			return fmt.Errorf("IssueSync is already running (PID %d, file %s)", pid, path)
		}
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func removePIDFile(path string, log *logger.Entry) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithFields(logger.Fields{
			"error":    err.Error(),
			"pid_file": path,
		}).Error("Failed to remove PID file")
	}
}

// processAlive reports whether a process with pid exists
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
