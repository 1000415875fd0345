package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultModel           = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
	DefaultMaxTokens       = 1024
	DefaultTemperature     = 0.3
	DefaultMode            = ModeAgent
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 18790
	DefaultWorkers         = 4
	DefaultBufSize         = 100
	DefaultBillingTimeout  = 15
	DefaultBillingRetries  = 3
	DefaultBillingPageSize = 100
	DefaultCacheTTL        = 300
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// ModeAgent routes free text through the tool-calling loop.
	ModeAgent = "agent"
	// ModeIntent routes free text through the single-shot classifier.
	ModeIntent = "intent"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Billing  BillingConfig  `json:"billing"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Cache    CacheConfig    `json:"cache"`
	Journal  JournalConfig  `json:"journal"`
	Log      LogConfig      `json:"log"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Model           string  `json:"model,omitempty"`
	ClassifierModel string  `json:"classifierModel,omitempty"`
	MaxTokens       int     `json:"maxTokens"`
	Temperature     float64 `json:"temperature"`
	Mode            string  `json:"mode"`
}

type BillingConfig struct {
	BaseURL        string `json:"baseUrl"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Retries        int    `json:"retries"`
	PageSize       int    `json:"pageSize"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	APIEnabled bool   `json:"apiEnabled"`
	APIToken   string `json:"apiToken,omitempty"`
	Workers    int    `json:"workers"`
}

type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	RedisURL   string `json:"redisUrl,omitempty"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{Type: ProviderOpenAI},
		Agent: AgentConfig{
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			Mode:        DefaultMode,
		},
		Billing: BillingConfig{
			TimeoutSeconds: DefaultBillingTimeout,
			Retries:        DefaultBillingRetries,
			PageSize:       DefaultBillingPageSize,
		},
		Gateway: GatewayConfig{
			Host:    DefaultHost,
			Port:    DefaultPort,
			Workers: DefaultWorkers,
		},
		Cache: CacheConfig{
			TTLSeconds: DefaultCacheTTL,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// ConfigDir is $FACTUBOT_HOME, or ~/.factubot.
func ConfigDir() string {
	if dir := os.Getenv("FACTUBOT_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".factubot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

// JournalPath returns the configured journal database, or the default under DataDir.
func (c *Config) JournalPath() string {
	if p := strings.TrimSpace(c.Journal.DBPath); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "journal.db")
}

func CronStorePath() string {
	return filepath.Join(DataDir(), "cron", "jobs.json")
}

// DefaultModelFor returns the model used when agent.model is not set.
func DefaultModelFor(provider string) string {
	if provider == ProviderAnthropic {
		return DefaultAnthropicModel
	}
	return DefaultModel
}

// ClassifierModel falls back to the agent model when no dedicated model is set.
func (c *Config) ClassifierModel() string {
	if m := strings.TrimSpace(c.Agent.ClassifierModel); m != "" {
		return m
	}
	return c.Agent.Model
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("FACTUBOT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = ProviderOpenAI
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = ProviderAnthropic
	}
	if u := os.Getenv("FACTUBOT_BASE_URL"); u != "" {
		cfg.Provider.BaseURL = u
	}
	if model := os.Getenv("FACTUBOT_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if u := os.Getenv("FACTUBOT_BILLING_URL"); u != "" {
		cfg.Billing.BaseURL = u
	}
	if token := os.Getenv("FACTUBOT_BILLING_TOKEN"); token != "" {
		cfg.Billing.Token = token
	}
	if token := os.Getenv("FACTUBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if u := os.Getenv("FACTUBOT_REDIS_URL"); u != "" {
		cfg.Cache.RedisURL = u
		cfg.Cache.Enabled = true
	}
	if level := os.Getenv("FACTUBOT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func fillDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = def.Provider.Type
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModelFor(cfg.Provider.Type)
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = def.Agent.MaxTokens
	}
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = def.Agent.Mode
	}
	if cfg.Billing.TimeoutSeconds <= 0 {
		cfg.Billing.TimeoutSeconds = def.Billing.TimeoutSeconds
	}
	if cfg.Billing.Retries <= 0 {
		cfg.Billing.Retries = def.Billing.Retries
	}
	if cfg.Billing.PageSize <= 0 {
		cfg.Billing.PageSize = def.Billing.PageSize
	}
	if cfg.Gateway.Workers <= 0 {
		cfg.Gateway.Workers = def.Gateway.Workers
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = def.Cache.TTLSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

// Validate reports every problem at once so a misconfigured deployment fails
// before any component is built.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Type {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("provider.type %q: want %q or %q", c.Provider.Type, ProviderOpenAI, ProviderAnthropic))
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		errs = append(errs, errors.New("provider.apiKey is empty (set FACTUBOT_API_KEY)"))
	}
	if c.Provider.BaseURL != "" {
		if err := checkURL(c.Provider.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("provider.baseUrl: %w", err))
		}
	}
	if strings.TrimSpace(c.Agent.Model) == "" {
		errs = append(errs, errors.New("agent.model is empty"))
	} else if c.Provider.Type == ProviderAnthropic && !strings.HasPrefix(c.Agent.Model, "claude") {
		errs = append(errs, fmt.Errorf("agent.model %q is not an Anthropic model", c.Agent.Model))
	}
	if c.Provider.Type == ProviderAnthropic && c.Agent.ClassifierModel != "" && !strings.HasPrefix(c.Agent.ClassifierModel, "claude") {
		errs = append(errs, fmt.Errorf("agent.classifierModel %q is not an Anthropic model", c.Agent.ClassifierModel))
	}
	switch c.Agent.Mode {
	case ModeAgent, ModeIntent:
	default:
		errs = append(errs, fmt.Errorf("agent.mode %q: want %q or %q", c.Agent.Mode, ModeAgent, ModeIntent))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %v out of range [0, 2]", c.Agent.Temperature))
	}
	if strings.TrimSpace(c.Billing.BaseURL) == "" {
		errs = append(errs, errors.New("billing.baseUrl is empty (set FACTUBOT_BILLING_URL)"))
	} else if err := checkURL(c.Billing.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("billing.baseUrl: %w", err))
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		errs = append(errs, errors.New("channels.telegram.token is empty while telegram is enabled"))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.RedisURL) == "" {
		errs = append(errs, errors.New("cache.redisUrl is empty while cache is enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}
