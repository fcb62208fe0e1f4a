package logger

import "time"

// Config controls where and how log records are written
type Config struct {
	Level  string     `yaml:"level" json:"level"`
	Format string     `yaml:"format" json:"format"`
	Output string     `yaml:"output" json:"output"` // stdout, stderr or a file path
	File   FileConfig `yaml:"file" json:"file,omitempty"`

	// SlowThreshold flags records whose duration field exceeds it. Zero disables the check.
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold,omitempty"`
}

// FileConfig is the lumberjack rotation policy used when Output is a path
type FileConfig struct {
	MaxSize    int  `yaml:"max_size" json:"max_size"` // MB
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAge     int  `yaml:"max_age" json:"max_age"` // days
	Compress   bool `yaml:"compress" json:"compress"`
}

// DefaultConfig logs info and above as JSON to stdout
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		SlowThreshold: 30 * time.Second,
		File: FileConfig{
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

func (c Config) writesToFile() bool {
	return c.Output != "" && c.Output != "stdout" && c.Output != "stderr"
}
