package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrRotationUnavailable is returned when the logger does not write to a file
var ErrRotationUnavailable = errors.New("log rotation not available: output is not a file")

// Manager owns the root logger and hands out cached component loggers
type Manager struct {
	rootLogger *Logger
	config     Config

	mu       sync.RWMutex
	contexts map[string]*Entry
}

// NewManager builds the root logger from config
func NewManager(config Config) (*Manager, error) {
	root, err := NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create root logger: %w", err)
	}
	return &Manager{
		rootLogger: root,
		config:     config,
		contexts:   make(map[string]*Entry),
	}, nil
}

func (m *Manager) GetRootLogger() *Logger {
	return m.rootLogger
}

// ForComponent returns the cached logger for component
func (m *Manager) ForComponent(component string) *Entry {
	return m.cached("component:"+component, Fields{"component": component})
}

// ForModule returns the cached logger for a module within component
func (m *Manager) ForModule(component, module string) *Entry {
	return m.cached("component:"+component+":module:"+module, Fields{
		"component": component,
		"module":    module,
	})
}

func (m *Manager) cached(key string, fields Fields) *Entry {
	m.mu.RLock()
	entry, ok := m.contexts[key]
	m.mu.RUnlock()
	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.contexts[key]; ok {
		return entry
	}
	entry = m.rootLogger.WithFields(fields)
	m.contexts[key] = entry
	return entry
}

func (m *Manager) WithContext(logCtx LogContext) *Entry {
	return m.rootLogger.WithFields(logCtx.ToFields())
}

// WithGoContext returns a logger carrying the identifiers stored on ctx
func (m *Manager) WithGoContext(ctx context.Context) *Entry {
	return m.WithContext(FromContext(ctx))
}

// Close flushes and closes the log file, if any
func (m *Manager) Close() error {
	if m.rootLogger.rotating == nil {
		return nil
	}
	return m.rootLogger.rotating.Close()
}

// RotateLog starts a new log file immediately
func (m *Manager) RotateLog() error {
	if m.rootLogger.rotating == nil {
		return ErrRotationUnavailable
	}
	return m.rootLogger.rotating.Rotate()
}

// GetLogStats reports the current log file and its rotation policy
func (m *Manager) GetLogStats() (*LogStats, error) {
	lj := m.rootLogger.rotating
	if lj == nil {
		return nil, ErrRotationUnavailable
	}

	stats := &LogStats{
		CurrentFile: lj.Filename,
		MaxSize:     lj.MaxSize,
		MaxAge:      lj.MaxAge,
		MaxBackups:  lj.MaxBackups,
		Compress:    lj.Compress,
	}
	if info, err := os.Stat(lj.Filename); err == nil {
		stats.CurrentSize = info.Size()
		stats.LastModified = info.ModTime()
	}
	return stats, nil
}

// LogStats describes the log file as seen by `issuesync log stats`
type LogStats struct {
	CurrentFile  string    `json:"current_file"`
	CurrentSize  int64     `json:"current_size"`
	LastModified time.Time `json:"last_modified"`
	MaxSize      int       `json:"max_size"`
	MaxAge       int       `json:"max_age"`
	MaxBackups   int       `json:"max_backups"`
	Compress     bool      `json:"compress"`
}

// NearLimit reports whether the file has used more than ratio of MaxSize
func (ls *LogStats) NearLimit(ratio float64) bool {
	if ls.MaxSize <= 0 {
		return false
	}
	return float64(ls.CurrentSize) > float64(ls.MaxSize)*1024*1024*ratio
}

// FormatSize renders a byte count with a binary unit
func (ls *LogStats) FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func (ls *LogStats) String() string {
	return fmt.Sprintf("File: %s, Size: %s, MaxSize: %dMB, MaxAge: %dd, MaxBackups: %d, Compress: %t",
		ls.CurrentFile, ls.FormatSize(ls.CurrentSize), ls.MaxSize, ls.MaxAge, ls.MaxBackups, ls.Compress)
}
