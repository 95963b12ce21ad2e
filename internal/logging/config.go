package logging

import (
	"io"
	"os"
	"strings"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR, FATAL).
	Level string
	// Format is json or text.
	Format string
	// Output is stdout, stderr, or a file path.
	Output string
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output, err := getOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return New(ParseLevel(cfg.Level), output).WithFormat(parseFormat(cfg.Format)), nil
}

// ParseLevel converts a level name to LogLevel; unknown names map to
// InfoLevel.
func ParseLevel(level string) LogLevel {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	if _, ok := severity[l]; ok {
		return l
	}
	return InfoLevel
}

func parseFormat(format string) Format {
	switch strings.ToLower(format) {
	case "text", "console":
		return TextFormat
	default:
		return JSONFormat
	}
}

func getOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return file, nil
	}
}
