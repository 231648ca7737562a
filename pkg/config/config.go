// Package config provides configuration loading, validation, and management
// for the shortlist agent.
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig returns the config BY VALUE to prevent external mutation;
// all updates go through LoadConfig/SetConfigForTesting. Model pricing and
// context sizes live in the hardcoded KnownModels registry, not in user
// config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/matt-house-e/shortlist/pkg/logx"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels contains pricing and provider information for common models.
// Unknown models fall back to ProviderPatterns inference.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-3-5-haiku-20241022": {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-5-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.25,
		OutputCPM:        2.0,
		MaxContextTokens: 400000,
		MaxOutputTokens:  128000,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.3,
		OutputCPM:        2.5,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a rule for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model
// names, so new models work without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model.
// Returns an error if the model cannot be mapped to a provider.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a model name and whether it was
// found in KnownModels. Unknown models get conservative defaults with an
// inferred provider.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost computes the USD cost of a request for a known model.
// Unknown models cost zero.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, known := GetModelInfo(modelName)
	if !known {
		return 0
	}
	return float64(promptTokens)/1e6*info.InputCPM + float64(completionTokens)/1e6*info.OutputCPM
}

// ModelsConfig selects which models handle which jobs.
type ModelsConfig struct {
	// Chat drives intake conversation, intent classification and advice.
	Chat string `json:"chat"`
	// Search drives web-search query execution and candidate extraction.
	Search string `json:"search"`
	// Enrich drives per-row field extraction.
	Enrich string `json:"enrich"`
}

// RetryConfig defines retry behavior for LLM and search calls.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`   // Including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay"`  // Delay before first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Cap on backoff delay
	BackoffFactor float64       `json:"backoff_factor"` // Exponential multiplier
	Jitter        bool          `json:"jitter"`         // Randomize delays to avoid thundering herd
}

// SearchConfig controls the explorer's discovery fan-out.
type SearchConfig struct {
	MinQueries  int           `json:"min_queries"`  // Lower bound on generated queries
	MaxQueries  int           `json:"max_queries"`  // Upper bound on generated queries
	MaxProducts int           `json:"max_products"` // Cap on candidates after dedup
	Timeout     time.Duration `json:"timeout"`      // Per-query timeout
}

// EnrichConfig controls the enrichment engine.
type EnrichConfig struct {
	BatchSize  int           `json:"batch_size"`  // Rows per backend batch
	MaxWorkers int           `json:"max_workers"` // Concurrent row enrichments
	RowDelay   time.Duration `json:"row_delay"`   // Stagger between row dispatches
	MaxRetries int           `json:"max_retries"` // Per-row retry attempts
	Timeout    time.Duration `json:"timeout"`     // Per-row timeout
}

// ContextConfig controls conversation history compaction.
type ContextConfig struct {
	MaxTokens          int     `json:"max_tokens"`          // Token budget for history
	CompactionRatio    float64 `json:"compaction_ratio"`    // Trigger compaction at this fraction of budget
	KeepRecentMessages int     `json:"keep_recent_messages"`
}

// MetricsConfig controls the Prometheus endpoint and query source.
type MetricsConfig struct {
	ListenAddr    string `json:"listen_addr"`    // Address for /metrics, empty disables
	PrometheusURL string `json:"prometheus_url"` // Server for cost queries, empty disables /cost
}

// Config is the full application configuration, persisted to
// .shortlist/config.json.
type Config struct {
	SchemaVersion string `json:"schema_version"`

	Models  *ModelsConfig  `json:"models"`
	Retry   *RetryConfig   `json:"retry"`
	Search  *SearchConfig  `json:"search"`
	Enrich  *EnrichConfig  `json:"enrich"`
	Context *ContextConfig `json:"context"`
	Metrics *MetricsConfig `json:"metrics"`

	// DBPath is the sqlite session store location, relative to the project
	// directory unless absolute.
	DBPath string `json:"db_path"`

	// === RUNTIME-ONLY STATE (NOT PERSISTED) ===
	SessionID string `json:"-"` // Current session UUID
}

const (
	currentSchemaVersion = "1.0"
	configDirName        = ".shortlist"
	configFileName       = "config.json"
)

// GetConfig returns a copy of the current configuration.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded - call LoadConfig first")
	}
	return *config, nil
}

// GetProjectDir returns the project directory set during LoadConfig.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SetConfigForTesting replaces the global config. Tests only.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg != nil {
		applyDefaults(cfg)
	}
	config = cfg
}

// LoadConfig loads configuration from dir/.shortlist/config.json, creating a
// default file when none exists, and applies defaults and validation.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	abs, err := filepath.Abs(inputProjectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project dir: %w", err)
	}
	projectDir = abs

	configPath := filepath.Join(projectDir, configDirName, configFileName)
	cfg, err := loadConfigFromFile(configPath)
	if os.IsNotExist(err) {
		cfg = defaultConfig()
		if saveErr := saveConfigLocked(cfg, configPath); saveErr != nil {
			getLogger().Warn("could not write default config: %v", saveErr)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	config = cfg
	return nil
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	return &cfg, nil
}

func saveConfigLocked(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	cfg := &Config{SchemaVersion: currentSchemaVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = currentSchemaVersion
	}
	if cfg.Models == nil {
		cfg.Models = &ModelsConfig{}
	}
	if cfg.Models.Chat == "" {
		cfg.Models.Chat = "claude-sonnet-4-5"
	}
	if cfg.Models.Search == "" {
		cfg.Models.Search = "gpt-5-mini"
	}
	if cfg.Models.Enrich == "" {
		cfg.Models.Enrich = "gpt-5-mini"
	}
	if cfg.Retry == nil {
		cfg.Retry = &RetryConfig{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
		cfg.Retry.Jitter = true
	}
	if cfg.Search == nil {
		cfg.Search = &SearchConfig{}
	}
	if cfg.Search.MinQueries == 0 {
		cfg.Search.MinQueries = 8
	}
	if cfg.Search.MaxQueries == 0 {
		cfg.Search.MaxQueries = 15
	}
	if cfg.Search.MaxProducts == 0 {
		cfg.Search.MaxProducts = 30
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 90 * time.Second
	}
	if cfg.Enrich == nil {
		cfg.Enrich = &EnrichConfig{}
	}
	if cfg.Enrich.BatchSize == 0 {
		cfg.Enrich.BatchSize = 20
	}
	if cfg.Enrich.MaxWorkers == 0 {
		cfg.Enrich.MaxWorkers = 30
	}
	if cfg.Enrich.RowDelay == 0 {
		cfg.Enrich.RowDelay = 100 * time.Millisecond
	}
	if cfg.Enrich.MaxRetries == 0 {
		cfg.Enrich.MaxRetries = 3
	}
	if cfg.Enrich.Timeout == 0 {
		cfg.Enrich.Timeout = 120 * time.Second
	}
	if cfg.Context == nil {
		cfg.Context = &ContextConfig{}
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 60000
	}
	if cfg.Context.CompactionRatio == 0 {
		cfg.Context.CompactionRatio = 0.8
	}
	if cfg.Context.KeepRecentMessages == 0 {
		cfg.Context.KeepRecentMessages = 10
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{ListenAddr: ":9090"}
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(configDirName, "shortlist.db")
	}
}

func validateConfig(cfg *Config) error {
	if _, err := GetModelProvider(cfg.Models.Chat); err != nil {
		return fmt.Errorf("models.chat: %w", err)
	}
	if _, err := GetModelProvider(cfg.Models.Search); err != nil {
		return fmt.Errorf("models.search: %w", err)
	}
	if _, err := GetModelProvider(cfg.Models.Enrich); err != nil {
		return fmt.Errorf("models.enrich: %w", err)
	}
	if cfg.Search.MinQueries > cfg.Search.MaxQueries {
		return fmt.Errorf("search.min_queries (%d) exceeds search.max_queries (%d)",
			cfg.Search.MinQueries, cfg.Search.MaxQueries)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Enrich.MaxWorkers < 1 {
		return fmt.Errorf("enrich.max_workers must be at least 1")
	}
	return nil
}

// GetAPIKey returns the API key for the given provider, checking the
// decrypted secrets file first and environment variables second. Ollama
// needs no key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		envVar = "OPENAI_API_KEY"
	case ProviderGoogle:
		envVar = "GEMINI_API_KEY"
	case ProviderOllama:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("no API key for provider %s: set %s or add it to the secrets file", provider, envVar)
	}
	return key, nil
}
