// Package config loads dispatch service configuration from config.yaml and
// POLY_ environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Providers ProvidersConfig `koanf:"providers"`
	Retry     RetryConfig     `koanf:"retry"`
	Budget    BudgetConfig    `koanf:"budget"`
	Search    SearchConfig    `koanf:"search"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// SystemInstruction is the base instruction used when the store has none.
	SystemInstruction string `koanf:"system_instruction"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ProvidersConfig struct {
	// Default is the identity unknown aliases resolve to.
	Default   string         `koanf:"default"`
	Gemini    ProviderConfig `koanf:"gemini"`
	Anthropic ProviderConfig `koanf:"anthropic"`
	OpenAI    ProviderConfig `koanf:"openai"`
	DeepSeek  ProviderConfig `koanf:"deepseek"`
}

type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"` // Custom API endpoint
	// Chain overrides the built-in model chain when non-empty.
	Chain []domain.ModelSpec `koanf:"chain"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
}

type BudgetConfig struct {
	ContextTokens  int `koanf:"context_tokens"`
	ChunkTokens    int `koanf:"chunk_tokens"`
	MaxChunks      int `koanf:"max_chunks"`
	MaxPromptBytes int `koanf:"max_prompt_bytes"`
}

type SearchConfig struct {
	Provider string        `koanf:"provider"` // tavily, brave, searxng
	APIKey   string        `koanf:"api_key"`
	APIURL   string        `koanf:"api_url"`
	Results  int           `koanf:"results"`
	Timeout  time.Duration `koanf:"timeout"`
}

type FetchConfig struct {
	MaxChars     int           `koanf:"max_chars"`
	Timeout      time.Duration `koanf:"timeout"`
	AllowPrivate bool          `koanf:"allow_private"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// CredentialEnv names the conventional environment variable consulted when a
// provider's api_key is empty.
var CredentialEnv = map[domain.ProviderIdentity]string{
	domain.ProviderGemini:    "GEMINI_API_KEY",
	domain.ProviderAnthropic: "ANTHROPIC_API_KEY",
	domain.ProviderOpenAI:    "OPENAI_API_KEY",
	domain.ProviderDeepSeek:  "DEEPSEEK_API_KEY",
}

var searchCredentialEnv = map[string]string{
	"tavily":  "TAVILY_API_KEY",
	"brave":   "BRAVE_API_KEY",
	"searxng": "SEARXNG_API_KEY",
}

var defaults = map[string]any{
	"server.port":                 8080,
	"server.request_timeout":      "300s",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "./data/dispatch.db",
	"providers.default":           string(domain.ProviderGemini),
	"providers.deepseek.base_url": "https://api.deepseek.com/v1",
	"retry.max_attempts":          3,
	"retry.base_delay":            "2s",
	"budget.context_tokens":       8000,
	"budget.chunk_tokens":         12000,
	"budget.max_chunks":           10,
	"budget.max_prompt_bytes":     400000,
	"search.provider":             "tavily",
	"search.results":              5,
	"search.timeout":              "15s",
	"fetch.max_chars":             10000,
	"fetch.timeout":               "15s",
	"telemetry.service_name":      "polyglot-dispatch",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads path (if present), then POLY_ environment overrides, then
// fills defaults. Nested keys use a double underscore:
// POLY_RETRY__BASE_DELAY=1s sets retry.base_delay.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("POLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "POLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets() {
	c.SystemInstruction = substituteEnvVars(c.SystemInstruction)
	for _, id := range []domain.ProviderIdentity{
		domain.ProviderGemini, domain.ProviderAnthropic, domain.ProviderOpenAI, domain.ProviderDeepSeek,
	} {
		pc := c.providerPtr(id)
		pc.APIKey = substituteEnvVars(pc.APIKey)
		pc.BaseURL = substituteEnvVars(pc.BaseURL)
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv(CredentialEnv[id])
		}
	}
	if c.Providers.Gemini.APIKey == "" {
		c.Providers.Gemini.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	c.Search.APIKey = substituteEnvVars(c.Search.APIKey)
	c.Search.APIURL = substituteEnvVars(c.Search.APIURL)
	if c.Search.APIKey == "" {
		if name, ok := searchCredentialEnv[strings.ToLower(c.Search.Provider)]; ok {
			c.Search.APIKey = os.Getenv(name)
		}
	}
}

func (c *Config) providerPtr(id domain.ProviderIdentity) *ProviderConfig {
	switch id {
	case domain.ProviderGemini:
		return &c.Providers.Gemini
	case domain.ProviderAnthropic:
		return &c.Providers.Anthropic
	case domain.ProviderOpenAI:
		return &c.Providers.OpenAI
	case domain.ProviderDeepSeek:
		return &c.Providers.DeepSeek
	}
	return nil
}

// Provider returns the settings for a canonical provider identity.
func (c *Config) Provider(id domain.ProviderIdentity) (ProviderConfig, bool) {
	if pc := c.providerPtr(id); pc != nil {
		return *pc, true
	}
	return ProviderConfig{}, false
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage.type %q (want sqlite or memory)", c.Storage.Type)
	}
	if _, ok := c.Provider(domain.ProviderIdentity(strings.ToLower(c.Providers.Default))); !ok {
		return fmt.Errorf("providers.default %q is not a known provider", c.Providers.Default)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if c.Budget.ContextTokens <= 0 || c.Budget.ChunkTokens <= 0 || c.Budget.MaxChunks <= 0 || c.Budget.MaxPromptBytes <= 0 {
		return fmt.Errorf("budget values must be positive")
	}
	switch strings.ToLower(c.Search.Provider) {
	case "tavily", "brave", "searxng", "none", "":
	default:
		return fmt.Errorf("unknown search.provider %q", c.Search.Provider)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
