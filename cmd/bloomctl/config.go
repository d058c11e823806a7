package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jobala/bloomidx/index"
	"github.com/jobala/bloomidx/util"
	"gopkg.in/yaml.v3"
)

// Config is the layout of the file passed with -config.
type Config struct {
	Index   index.Config        `yaml:"index"`
	Storage index.StorageConfig `yaml:"storage"`
	Logging LoggingConfig       `yaml:"logging"`
	Vacuum  VacuumConfig        `yaml:"vacuum"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type VacuumConfig struct {
	PagesPerSecond float64 `yaml:"pages_per_second"`
	Burst          int     `yaml:"burst"`
}

func defaultConfig() *Config {
	return &Config{
		Index:   index.DefaultConfig(1),
		Logging: LoggingConfig{Level: "warn", Format: "text"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) logger(w io.Writer) (*util.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, util.NewConfigError("logging.level", fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "", "text":
		return util.NewTextLogger(w, level), nil
	case "json":
		return util.NewJSONLogger(w, level), nil
	default:
		return nil, util.NewConfigError("logging.format", fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
}

func (c *Config) indexOptions(logger *util.Logger) []index.Option {
	return []index.Option{
		index.WithLogger(logger),
		index.WithVacuumRate(c.Vacuum.PagesPerSecond, c.Vacuum.Burst),
		index.WithCheckpointBytes(c.Storage.CheckpointBytes),
	}
}
