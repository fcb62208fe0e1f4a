package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a logrus logger that redacts credentials before anything is written
type Logger struct {
	*logrus.Logger

	// rotating is set when Output names a file
	rotating *lumberjack.Logger
}

// NewLogger builds a logger from config. Unknown levels fall back to info.
func NewLogger(config Config) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetFormatter(newFormatter(config.Format))

	l := &Logger{Logger: base}
	if config.writesToFile() {
		rotating, err := openRotatingFile(config)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		l.rotating = rotating
		base.SetOutput(rotating)
	} else {
		base.SetOutput(consoleWriter(config.Output))
	}

	base.AddHook(NewRedactionHook())
	if config.SlowThreshold > 0 {
		base.AddHook(&SlowOperationHook{Threshold: config.SlowThreshold})
	}

	return l, nil
}

// GetDefaultLogger returns a logger built from DefaultConfig
func GetDefaultLogger() *Logger {
	l, _ := NewLogger(DefaultConfig())
	return l
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

func consoleWriter(output string) io.Writer {
	if output == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

func openRotatingFile(config Config) (*lumberjack.Logger, error) {
	path, err := filepath.Abs(config.Output)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    config.File.MaxSize,
		MaxBackups: config.File.MaxBackups,
		MaxAge:     config.File.MaxAge,
		Compress:   config.File.Compress,
	}, nil
}
