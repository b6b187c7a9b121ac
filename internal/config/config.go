// Package config loads stream-note settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bainianlaoyao/stream-note/internal/analysis"
	"github.com/bainianlaoyao/stream-note/internal/llm"
)

// Config is the full runtime configuration.
type Config struct {
	DBPath   string   `yaml:"db_path"`
	Analysis Analysis `yaml:"silent_analysis"`
	AI       AI       `yaml:"ai"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Analysis configures the silent analysis queue. Durations are seconds.
type Analysis struct {
	Enabled          bool    `yaml:"enabled"`
	IdleSeconds      float64 `yaml:"idle_seconds"`
	PollSeconds      float64 `yaml:"poll_seconds"`
	BatchSize        int     `yaml:"batch_size"`
	MaxRetry         int     `yaml:"max_retry"`
	RetryBaseSeconds float64 `yaml:"retry_base_seconds"`
}

// AI configures the default LLM provider.
type AI struct {
	Provider          string  `yaml:"provider"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	MaxAttempts       int     `yaml:"max_attempts"`
	DisableThinking   bool    `yaml:"disable_thinking"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Metrics configures the health and metrics listener. An empty address
// disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// DefaultDBPath is ~/.stream-note/stream-note.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".stream-note", "stream-note.db")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath: DefaultDBPath(),
		Analysis: Analysis{
			Enabled:          true,
			IdleSeconds:      6,
			PollSeconds:      0.8,
			BatchSize:        20,
			MaxRetry:         3,
			RetryBaseSeconds: 4,
		},
		AI: AI{
			Provider:        llm.ProviderOpenAICompatible,
			BaseURL:         "http://localhost:11434/v1",
			APIKey:          "dummy-key",
			Model:           "llama3.2",
			TimeoutSeconds:  20,
			MaxAttempts:     2,
			DisableThinking: true,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path names an optional YAML file; when
// empty, STREAM_NOTE_CONFIG is consulted. A named file that does not exist
// is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("STREAM_NOTE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)
	cfg.clamp()
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, ok := parseBool(v); ok {
				*dst = b
			}
		}
	}

	str("STREAM_NOTE_DB", &cfg.DBPath)

	// Anything but an explicit yes turns analysis off.
	if v, ok := lookup("SILENT_ANALYSIS_ENABLED"); ok {
		b, _ := parseBool(v)
		cfg.Analysis.Enabled = b
	}
	float("SILENT_ANALYSIS_IDLE_SECONDS", &cfg.Analysis.IdleSeconds)
	float("SILENT_ANALYSIS_POLL_SECONDS", &cfg.Analysis.PollSeconds)
	integer("SILENT_ANALYSIS_BATCH_SIZE", &cfg.Analysis.BatchSize)
	integer("SILENT_ANALYSIS_MAX_RETRY", &cfg.Analysis.MaxRetry)
	float("SILENT_ANALYSIS_RETRY_BASE_SECONDS", &cfg.Analysis.RetryBaseSeconds)

	str("AI_PROVIDER", &cfg.AI.Provider)
	str("OPENAI_API_BASE", &cfg.AI.BaseURL)
	str("OPENAI_API_KEY", &cfg.AI.APIKey)
	str("OPENAI_MODEL", &cfg.AI.Model)
	float("OPENAI_TIMEOUT_SECONDS", &cfg.AI.TimeoutSeconds)
	integer("OPENAI_MAX_ATTEMPTS", &cfg.AI.MaxAttempts)
	boolean("AI_DISABLE_THINKING", &cfg.AI.DisableThinking)
	float("AI_REQUESTS_PER_SECOND", &cfg.AI.RequestsPerSecond)

	str("STREAM_NOTE_LOG_LEVEL", &cfg.Log.Level)
	str("STREAM_NOTE_LOG_FORMAT", &cfg.Log.Format)
	str("STREAM_NOTE_LOG_FILE", &cfg.Log.File)
	str("STREAM_NOTE_METRICS_ADDR", &cfg.Metrics.Addr)
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func (c *Config) clamp() {
	c.Analysis.IdleSeconds = max(0, c.Analysis.IdleSeconds)
	c.Analysis.PollSeconds = max(0.1, c.Analysis.PollSeconds)
	c.Analysis.BatchSize = max(1, c.Analysis.BatchSize)
	c.Analysis.MaxRetry = max(1, c.Analysis.MaxRetry)
	c.Analysis.RetryBaseSeconds = max(0.2, c.Analysis.RetryBaseSeconds)
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = Default().AI.TimeoutSeconds
	}
	c.AI.MaxAttempts = max(1, c.AI.MaxAttempts)
	c.AI.RequestsPerSecond = max(0, c.AI.RequestsPerSecond)
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	if c.AI.Provider != llm.ProviderDashScope {
		c.AI.Provider = llm.ProviderOpenAICompatible
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Queue returns the analysis queue settings.
func (c Config) Queue() analysis.Config {
	return analysis.Config{
		Enabled:   c.Analysis.Enabled,
		Idle:      seconds(c.Analysis.IdleSeconds),
		Poll:      seconds(c.Analysis.PollSeconds),
		BatchSize: c.Analysis.BatchSize,
		MaxRetry:  c.Analysis.MaxRetry,
		RetryBase: seconds(c.Analysis.RetryBaseSeconds),
		Lease:     analysis.LeaseFor(seconds(c.AI.TimeoutSeconds), c.AI.MaxAttempts, c.Analysis.BatchSize),
	}
}

// LLM returns the default provider settings.
func (c Config) LLM() llm.Settings {
	return llm.Settings{
		Provider:        c.AI.Provider,
		BaseURL:         c.AI.BaseURL,
		APIKey:          c.AI.APIKey,
		Model:           c.AI.Model,
		Timeout:         seconds(c.AI.TimeoutSeconds),
		MaxAttempts:     c.AI.MaxAttempts,
		DisableThinking: c.AI.DisableThinking,
	}
}
