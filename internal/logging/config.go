package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	Fields map[string]string `koanf:"fields"`

	// writer overrides the output sink, for tests.
	writer zapcore.WriteSyncer
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{
			"service": "orchd",
		},
	}
}

// WithWriter returns a copy of the config writing to w instead of stdout.
func (c *Config) WithWriter(w zapcore.WriteSyncer) *Config {
	out := *c
	out.writer = w
	return &out
}

func (c *Config) sink() zapcore.WriteSyncer {
	if c.writer != nil {
		return c.writer
	}
	return zapcore.AddSync(os.Stdout)
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	for k := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
	}
	return nil
}
