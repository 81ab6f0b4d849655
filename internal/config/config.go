// Package config loads the council configuration from ~/.council/config.yaml,
// writing a commented default file on first run. Environment variables with
// the COUNCIL_ prefix override any file value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/council/internal/council"
)

// Config holds all application configuration for the council CLI.
type Config struct {
	Council  CouncilConfig  `mapstructure:"council" yaml:"council"`
	Gateways GatewaysConfig `mapstructure:"gateways" yaml:"gateways"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
}

// CouncilConfig configures the deliberation engine.
type CouncilConfig struct {
	// Models are the council members, as gateway-namespaced ids.
	Models []string `mapstructure:"models" yaml:"models"`
	// ChairmanModel synthesizes the final answer in Stage 3.
	ChairmanModel string `mapstructure:"chairman_model" yaml:"chairman_model"`
	// NormalizerModel rewrites responses when style normalization is on.
	NormalizerModel string `mapstructure:"normalizer_model" yaml:"normalizer_model"`
	// ExcludeSelfVotes drops a reviewer's vote for its own response.
	ExcludeSelfVotes bool `mapstructure:"exclude_self_votes" yaml:"exclude_self_votes"`
	// StyleNormalization rewrites responses to neutral prose before ranking.
	StyleNormalization bool `mapstructure:"style_normalization" yaml:"style_normalization"`
	// MaxReviewers caps how many reviewers rank each response (0 = all).
	MaxReviewers int `mapstructure:"max_reviewers" yaml:"max_reviewers"`
	// ConfidenceThreshold gates pass verdicts in verify mode.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	// StageTimeoutsMS are the per-stage budgets in milliseconds.
	StageTimeoutsMS StageTimeoutsConfig `mapstructure:"stage_timeouts_ms" yaml:"stage_timeouts_ms"`
	// ConfidenceWeights blends the rank/rubric/spread agreement signals.
	ConfidenceWeights WeightsConfig `mapstructure:"confidence_weights" yaml:"confidence_weights"`
}

// StageTimeoutsConfig holds per-stage budgets in milliseconds.
type StageTimeoutsConfig struct {
	Stage1 int64 `mapstructure:"stage1" yaml:"stage1"`
	Stage2 int64 `mapstructure:"stage2" yaml:"stage2"`
	Stage3 int64 `mapstructure:"stage3" yaml:"stage3"`
}

// WeightsConfig holds the confidence blend weights.
type WeightsConfig struct {
	Rank   float64 `mapstructure:"rank" yaml:"rank"`
	Rubric float64 `mapstructure:"rubric" yaml:"rubric"`
	Spread float64 `mapstructure:"spread" yaml:"spread"`
}

// GatewaysConfig configures the upstream LLM gateways.
type GatewaysConfig struct {
	// Default is the gateway that receives un-namespaced model ids.
	Default    string        `mapstructure:"default" yaml:"default"`
	OpenRouter GatewayConfig `mapstructure:"openrouter" yaml:"openrouter"`
	Ollama     GatewayConfig `mapstructure:"ollama" yaml:"ollama"`
}

// GatewayConfig configures one upstream gateway.
type GatewayConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey authenticates against the gateway. OPENROUTER_API_KEY also works.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// TimeoutSec bounds a single HTTP request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where dated log files are written.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Console mirrors logs to stderr.
	Console bool `mapstructure:"console" yaml:"console"`
}

// StorageConfig configures on-disk artifacts.
type StorageConfig struct {
	// TranscriptDir is the root for per-run transcript directories.
	TranscriptDir string `mapstructure:"transcript_dir" yaml:"transcript_dir"`
	// HistoryDB is the SQLite deliberation history database.
	HistoryDB string `mapstructure:"history_db" yaml:"history_db"`
}

// Default returns a Config with the stock council and storage layout
// under ~/.council.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	councilDir := filepath.Join(homeDir, ".council")

	return &Config{
		Council: CouncilConfig{
			Models: []string{
				"openai/gpt-5.1",
				"google/gemini-3-pro-preview",
				"anthropic/claude-opus-4.5",
				"x-ai/grok-4",
			},
			ChairmanModel:       "google/gemini-3-pro-preview",
			NormalizerModel:     "google/gemini-2.0-flash-001",
			ExcludeSelfVotes:    true,
			StyleNormalization:  false,
			MaxReviewers:        0,
			ConfidenceThreshold: 0.6,
			StageTimeoutsMS:     StageTimeoutsConfig{Stage1: 60_000, Stage2: 60_000, Stage3: 60_000},
			ConfidenceWeights:   WeightsConfig{Rank: 0.5, Rubric: 0.3, Spread: 0.2},
		},
		Gateways: GatewaysConfig{
			Default: "openrouter",
			OpenRouter: GatewayConfig{
				Endpoint: "https://openrouter.ai/api",
			},
			Ollama: GatewayConfig{
				Endpoint: "http://127.0.0.1:11434",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(councilDir, "applog"),
		},
		Storage: StorageConfig{
			// Deliberation transcripts are the system of record and keep
			// the logs/ name; diagnostic logging lives under applog/.
			TranscriptDir: filepath.Join(councilDir, "logs"),
			HistoryDB:     filepath.Join(councilDir, "history.db"),
		},
	}
}

// Load reads configuration from ~/.council/config.yaml, creating it with
// defaults on first run, then applies environment overrides.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".council", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file, creating it with
// defaults when missing. Environment variables win over file values:
// COUNCIL_COUNCIL_CHAIRMAN_MODEL, COUNCIL_GATEWAYS_OPENROUTER_API_KEY, etc.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("COUNCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)
	cfg.Storage.TranscriptDir = expandPath(cfg.Storage.TranscriptDir)
	cfg.Storage.HistoryDB = expandPath(cfg.Storage.HistoryDB)

	if cfg.Gateways.OpenRouter.APIKey == "" {
		cfg.Gateways.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return &cfg, nil
}

// Validate rejects configurations the engine would refuse anyway, with
// friendlier messages.
func (c *Config) Validate() error {
	if len(c.Council.Models) < 2 {
		return fmt.Errorf("council.models needs at least 2 entries")
	}
	if c.Council.ChairmanModel == "" {
		return fmt.Errorf("council.chairman_model is required")
	}
	if c.Council.ConfidenceThreshold < 0 || c.Council.ConfidenceThreshold > 1 {
		return fmt.Errorf("council.confidence_threshold must be within [0, 1]")
	}
	if c.Gateways.Default == "" {
		return fmt.Errorf("gateways.default is required")
	}
	return nil
}

// ToCouncil converts the file-level council section into the engine's
// resolved configuration.
func (c *Config) ToCouncil() council.Config {
	cfg := council.Config{
		Models:             c.Council.Models,
		Chairman:           c.Council.ChairmanModel,
		Normalizer:         c.Council.NormalizerModel,
		ExcludeSelfVotes:   c.Council.ExcludeSelfVotes,
		StyleNormalization: c.Council.StyleNormalization,
		MaxReviewers:       c.Council.MaxReviewers,
		Timeouts: council.StageTimeouts{
			S1: c.Council.StageTimeoutsMS.Stage1,
			S2: c.Council.StageTimeoutsMS.Stage2,
			S3: c.Council.StageTimeoutsMS.Stage3,
		},
		Weights: council.ConfidenceWeights{
			Rank:   c.Council.ConfidenceWeights.Rank,
			Rubric: c.Council.ConfidenceWeights.Rubric,
			Spread: c.Council.ConfidenceWeights.Spread,
		},
	}
	return cfg
}

// writeConfigFile persists a config as YAML.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := "# Council configuration. Environment variables with the COUNCIL_ prefix\n# override any value here, e.g. COUNCIL_COUNCIL_CHAIRMAN_MODEL.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
