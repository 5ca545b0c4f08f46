// Package config loads run settings from a YAML file, a .env file and the
// process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
)

// #region types
type Config struct {
	DBPath         string              `yaml:"db_path" validate:"required"`
	ExportDir      string              `yaml:"export_dir" validate:"required"`
	MetricsFile    string              `yaml:"metrics_file"`
	Metrics        []string            `yaml:"metrics" validate:"required,min=1,dive,required"`
	SliceMetrics   map[string][]string `yaml:"slice_metrics" validate:"dive,keys,oneof=embb urllc,endkeys,min=1,dive,required"`
	CollapseGroups []string            `yaml:"collapse_groups" validate:"dive,required"`
	Workers        int                 `yaml:"workers" validate:"min=1,max=64"`
	TopK           int                 `yaml:"top_k" validate:"min=1"`
	Oracle         OracleConfig        `yaml:"oracle"`
	Eval           EvalConfig          `yaml:"eval"`
}

type OracleConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=openai grpc file"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"`
	Addr        string        `yaml:"addr" validate:"required_if=Backend grpc"`
	Dir         string        `yaml:"dir" validate:"required_if=Backend file"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Rate        float64       `yaml:"rate" validate:"gte=0"` // requests per second, 0 disables limiting
	Burst       int           `yaml:"burst" validate:"gte=0"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
}

type EvalConfig struct {
	MaxCosineError float64 `yaml:"max_cosine_error" validate:"gt=0,lte=2"`
	MaxNRMSE       float64 `yaml:"max_nrmse" validate:"gt=0"`
}

// #endregion types

// #region defaults
// Default returns the settings used when no config file is present.
func Default() Config {
	return Config{
		DBPath:    "importance_shift.db",
		ExportDir: "exports",
		Metrics:   []string{"user_throughput", "Avg_Delay_ms", "Throughput_Mbps"},
		SliceMetrics: map[string][]string{
			envdiff.SliceEMBB:  {"Throughput_Mbps"},
			envdiff.SliceURLLC: {"Avg_Delay_ms"},
		},
		CollapseGroups: []string{"Scheduling"},
		Workers:        1,
		TopK:           3,
		Oracle: OracleConfig{
			Backend: "openai",
			Model:   "gpt-4o",
			Addr:    "localhost:50051",
			Timeout: 60 * time.Second,
			Rate:    2,
			Burst:   1,
		},
		Eval: EvalConfig{MaxCosineError: 0.1, MaxNRMSE: 0.25},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults (a missing path is not an error), loads a
// .env file from the working directory if present, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DBPath = getEnv("SHIFT_DB", c.DBPath)
	c.ExportDir = getEnv("SHIFT_EXPORT_DIR", c.ExportDir)
	c.Oracle.Backend = getEnv("SHIFT_ORACLE", c.Oracle.Backend)
	c.Oracle.APIKey = getEnv("OPENAI_API_KEY", c.Oracle.APIKey)
	c.Oracle.Model = getEnv("OPENAI_MODEL", c.Oracle.Model)
	c.Oracle.BaseURL = getEnv("OPENAI_BASE_URL", c.Oracle.BaseURL)
	c.Oracle.Addr = getEnv("ORACLE_ADDR", c.Oracle.Addr)
	if v := os.Getenv("SHIFT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHIFT_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault writes Default() as YAML to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// #endregion load

// MetricsFor returns the metrics to recover for a reference of the given
// slice type. Unrouted slice types get every configured metric.
func (c Config) MetricsFor(sliceType string) []string {
	if ms, ok := c.SliceMetrics[sliceType]; ok && len(ms) > 0 {
		return ms
	}
	return c.Metrics
}
