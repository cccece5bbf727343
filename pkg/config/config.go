// Package config provides configuration loading, validation, and management for
// the interview engine.
//
// KEY PRINCIPLES:
//
//  1. VALUE-BASED ACCESS: Get() returns the config BY VALUE (copy, not
//     reference) to prevent external mutation. The loaded config is a global
//     singleton protected by a mutex.
//
//  2. VALIDATION FIRST: configs are validated on load; invalid configs are
//     rejected rather than patched up at runtime.
//
//  3. SEPARATION OF CONCERNS: engine limits (stack depth, loop ceilings,
//     follow-up caps) live in the Engine section; model/backend settings in
//     Models; persistence backend selection in Store. Per-session progress
//     belongs in the KV store, never in config.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"interview/pkg/logx"
)

// Result-validation policies for step outputs (see EngineConfig.ResultPolicy).
const (
	ResultPolicyWarn   = "warn"
	ResultPolicyReject = "reject"
)

// Store backend names.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// Backend provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Default engine limits. These are algorithm parameters, not tuning knobs;
// zero values in a config file fall back to these.
const (
	DefaultMaxStackDepth        = 3
	DefaultMaxLoopIterations    = 10
	DefaultMaxFollowUps         = 2
	DefaultMaxQuestionRevisions = 3
	DefaultMaxVerdictRetries    = 2
	DefaultSessionTTLSeconds    = 24 * 60 * 60
	DefaultHistoryTokenBudget   = 60000
	DefaultMaxTokens            = 4096
)

// EngineConfig holds the orchestration limits.
type EngineConfig struct {
	MaxStackDepth        int    `yaml:"max_stack_depth"`
	MaxLoopIterations    int    `yaml:"max_loop_iterations"`
	MaxFollowUps         int    `yaml:"max_follow_ups"`
	MaxQuestionRevisions int    `yaml:"max_question_revisions"`
	MaxVerdictRetries    int    `yaml:"max_verdict_retries"`
	SessionTTLSeconds    int    `yaml:"session_ttl_seconds"`
	HistoryTokenBudget   int    `yaml:"history_token_budget"`
	ResultPolicy         string `yaml:"result_policy"` // "warn" or "reject"
}

// ModelConfig selects the language backend and its parameters.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // anthropic, openai, ollama, mock
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"` // supports ${ENV_VAR} substitution
	Host        string  `yaml:"host"`    // ollama only
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, redis, badger
	Path    string `yaml:"path"`    // sqlite file / badger dir
	Addr    string `yaml:"addr"`    // redis address
}

// Config is the root configuration object.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Model  ModelConfig  `yaml:"model"`
	Store  StoreConfig  `yaml:"store"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	mu     sync.RWMutex
	logger = logx.NewLogger("config")
)

// Default returns a config with every limit at its default value, the mock
// backend, and the in-memory store. Tests and embedders that never touch a
// config file start from here.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			MaxStackDepth:        DefaultMaxStackDepth,
			MaxLoopIterations:    DefaultMaxLoopIterations,
			MaxFollowUps:         DefaultMaxFollowUps,
			MaxQuestionRevisions: DefaultMaxQuestionRevisions,
			MaxVerdictRetries:    DefaultMaxVerdictRetries,
			SessionTTLSeconds:    DefaultSessionTTLSeconds,
			HistoryTokenBudget:   DefaultHistoryTokenBudget,
			ResultPolicy:         ResultPolicyWarn,
		},
		Model: ModelConfig{
			Provider:  ProviderMock,
			MaxTokens: DefaultMaxTokens,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
	}
}

// Load reads a YAML config file, applies defaults to unset fields, expands
// ${ENV_VAR} references in the API key, validates the result, and installs it
// as the global config.
func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	applyDefaults(&cfg)
	cfg.Model.APIKey = expandEnv(cfg.Model.APIKey)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config in %s: %w", path, err)
	}

	mu.Lock()
	config = &cfg
	mu.Unlock()
	logger.Info("Loaded config from %s (backend=%s store=%s)", path, cfg.Model.Provider, cfg.Store.Backend)
	return nil
}

// Set installs a config directly, bypassing file loading. Used by embedders
// and tests.
func Set(cfg Config) error {
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	mu.Lock()
	config = &cfg
	mu.Unlock()
	return nil
}

// Get returns the current config by value. If no config has been loaded the
// defaults are returned.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Default()
	}
	return *config
}

// applyDefaults fills zero-valued limits so a sparse YAML file still yields a
// usable config.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Engine.MaxStackDepth == 0 {
		cfg.Engine.MaxStackDepth = def.Engine.MaxStackDepth
	}
	if cfg.Engine.MaxLoopIterations == 0 {
		cfg.Engine.MaxLoopIterations = def.Engine.MaxLoopIterations
	}
	if cfg.Engine.MaxFollowUps == 0 {
		cfg.Engine.MaxFollowUps = def.Engine.MaxFollowUps
	}
	if cfg.Engine.MaxQuestionRevisions == 0 {
		cfg.Engine.MaxQuestionRevisions = def.Engine.MaxQuestionRevisions
	}
	if cfg.Engine.MaxVerdictRetries == 0 {
		cfg.Engine.MaxVerdictRetries = def.Engine.MaxVerdictRetries
	}
	if cfg.Engine.SessionTTLSeconds == 0 {
		cfg.Engine.SessionTTLSeconds = def.Engine.SessionTTLSeconds
	}
	if cfg.Engine.HistoryTokenBudget == 0 {
		cfg.Engine.HistoryTokenBudget = def.Engine.HistoryTokenBudget
	}
	if cfg.Engine.ResultPolicy == "" {
		cfg.Engine.ResultPolicy = def.Engine.ResultPolicy
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = def.Model.Provider
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
}

// Validate checks cross-field consistency. Called by Load and Set; exported so
// hand-built configs can be checked too.
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxStackDepth < 1 {
		return fmt.Errorf("engine.max_stack_depth must be >= 1, got %d", e.MaxStackDepth)
	}
	if e.MaxLoopIterations < 1 {
		return fmt.Errorf("engine.max_loop_iterations must be >= 1, got %d", e.MaxLoopIterations)
	}
	if e.MaxFollowUps < 0 {
		return fmt.Errorf("engine.max_follow_ups must be >= 0, got %d", e.MaxFollowUps)
	}
	if e.MaxQuestionRevisions < 1 {
		return fmt.Errorf("engine.max_question_revisions must be >= 1, got %d", e.MaxQuestionRevisions)
	}
	if e.MaxVerdictRetries < 1 {
		return fmt.Errorf("engine.max_verdict_retries must be >= 1, got %d", e.MaxVerdictRetries)
	}
	if e.SessionTTLSeconds < 0 {
		return fmt.Errorf("engine.session_ttl_seconds must be >= 0, got %d", e.SessionTTLSeconds)
	}
	switch e.ResultPolicy {
	case ResultPolicyWarn, ResultPolicyReject:
	default:
		return fmt.Errorf("engine.result_policy must be %q or %q, got %q", ResultPolicyWarn, ResultPolicyReject, e.ResultPolicy)
	}

	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI:
		if c.Model.Name == "" {
			return fmt.Errorf("model.name is required for provider %s", c.Model.Provider)
		}
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required for provider %s", c.Model.Provider)
		}
	case ProviderOllama:
		if c.Model.Name == "" {
			return fmt.Errorf("model.name is required for provider %s", c.Model.Provider)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite, StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for backend %s", c.Store.Backend)
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for backend %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// expandEnv resolves a single ${VAR} reference. A literal value passes through
// unchanged; an unset variable resolves to empty, which Validate then rejects
// for providers that need a key.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}"))
	}
	return v
}
