// Package config loads and validates kiln engine configuration.
// Configuration lives at <workspace>/.kiln/config.yaml and may be
// overridden by KILN_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all kiln configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Convergence ConvergenceConfig `yaml:"convergence"`
	Sprint      SprintConfig      `yaml:"sprint"`
	Governor    GovernorConfig    `yaml:"governor"`
	Chat        ChatConfig        `yaml:"chat"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ConvergenceConfig controls the quality convergence loop.
type ConvergenceConfig struct {
	MinScore                 float64 `yaml:"min_score"`                  // Quality bar (0-100)
	ConvergenceThreshold     float64 `yaml:"convergence_threshold"`      // Improvement above this means "still improving"
	MinConvergenceIterations int     `yaml:"min_convergence_iterations"` // Iterations before convergence may be declared
	MaxIterations            int     `yaml:"max_iterations"`             // Hard ceiling per unit of work
}

// SprintConfig controls the sprint/build runner.
type SprintConfig struct {
	MaxIterationsPerSprint int     `yaml:"max_iterations_per_sprint"` // Shared ceiling for fix and improvement passes
	QualityThreshold       float64 `yaml:"quality_threshold"`         // Minimum sprint quality score
}

// GovernorConfig controls the resource governor.
type GovernorConfig struct {
	MemThresholdPct        float64 `yaml:"mem_threshold_pct"`        // System memory pct above which budget is halved
	CPUThresholdMultiplier float64 `yaml:"cpu_threshold_multiplier"` // loadavg > cpus*multiplier cuts budget by 25%
}

// ChatConfig selects and configures the chat vendor. One vendor is chosen
// at construction; the engine never branches on vendor identity.
type ChatConfig struct {
	Vendor  string `yaml:"vendor"` // gemini, stub
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures the build archive.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file, relative to workspace
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns production defaults.
func Default() *Config {
	return &Config{
		Name:    "kiln",
		Version: "0.1.0",
		Convergence: ConvergenceConfig{
			MinScore:                 85,
			ConvergenceThreshold:     2,
			MinConvergenceIterations: 3,
			MaxIterations:            10,
		},
		Sprint: SprintConfig{
			MaxIterationsPerSprint: 5,
			QualityThreshold:       80,
		},
		Governor: GovernorConfig{
			MemThresholdPct:        85,
			CPUThresholdMultiplier: 0.8,
		},
		Chat: ChatConfig{
			Vendor:  "gemini",
			Model:   "gemini-2.0-flash",
			Timeout: "120s",
		},
		Store: StoreConfig{
			Path: filepath.Join(".kiln", "kiln.db"),
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from <workspace>/.kiln/config.yaml, falling back to
// defaults when the file is absent, then applies env overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".kiln", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to <workspace>/.kiln/config.yaml.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".kiln")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Convergence.MinScore < 0 || c.Convergence.MinScore > 100 {
		return fmt.Errorf("convergence.min_score must be in [0,100], got %.1f", c.Convergence.MinScore)
	}
	if c.Convergence.MaxIterations < 1 {
		return fmt.Errorf("convergence.max_iterations must be >= 1, got %d", c.Convergence.MaxIterations)
	}
	if c.Convergence.MinConvergenceIterations < 1 {
		return fmt.Errorf("convergence.min_convergence_iterations must be >= 1, got %d", c.Convergence.MinConvergenceIterations)
	}
	if c.Sprint.MaxIterationsPerSprint < 1 {
		return fmt.Errorf("sprint.max_iterations_per_sprint must be >= 1, got %d", c.Sprint.MaxIterationsPerSprint)
	}
	if c.Governor.MemThresholdPct <= 0 || c.Governor.MemThresholdPct > 100 {
		return fmt.Errorf("governor.mem_threshold_pct must be in (0,100], got %.1f", c.Governor.MemThresholdPct)
	}
	if c.Governor.CPUThresholdMultiplier <= 0 {
		return fmt.Errorf("governor.cpu_threshold_multiplier must be > 0, got %.2f", c.Governor.CPUThresholdMultiplier)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over file values.
func applyEnvOverrides(c *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Chat.APIKey == "" {
		c.Chat.APIKey = key
	}
	if v := os.Getenv("KILN_CHAT_VENDOR"); v != "" {
		c.Chat.Vendor = v
	}
	if v := os.Getenv("KILN_CHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("KILN_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Convergence.MinScore = f
		}
	}
	if v := os.Getenv("KILN_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Convergence.MaxIterations = n
		}
	}
	if v := os.Getenv("KILN_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		if c.Logging.Level == "" {
			c.Logging.Level = "debug"
		}
	}
}
