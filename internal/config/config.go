// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Inference() LLMModelConfig
	Planner() PlannerConfig
	Sandbox() SandboxConfig
	Export() ExportConfig
	Batch() BatchConfig

	// Agent Setters
	SetAgentDialect(string)
	SetAgentMaxSteps(int)
	SetAgentPreviewDir(string)

	// Export Setters
	SetExportJSONLPath(string)

	// Sandbox Setters
	SetSandboxType(SandboxType)
	SetComputerServerURL(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration. Sections are reached
// through the Interface getters.
type Config struct {
	LoggerCfg    LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AgentCfg     AgentConfig    `mapstructure:"agent" yaml:"agent"`
	InferenceCfg LLMModelConfig `mapstructure:"inference" yaml:"inference"`
	PlannerCfg   PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	SandboxCfg   SandboxConfig  `mapstructure:"sandbox" yaml:"sandbox"`
	ExportCfg    ExportConfig   `mapstructure:"export" yaml:"export"`
	BatchCfg     BatchConfig    `mapstructure:"batch" yaml:"batch"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig      { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig        { return c.AgentCfg }
func (c *Config) Inference() LLMModelConfig { return c.InferenceCfg }
func (c *Config) Planner() PlannerConfig    { return c.PlannerCfg }
func (c *Config) Sandbox() SandboxConfig    { return c.SandboxCfg }
func (c *Config) Export() ExportConfig      { return c.ExportCfg }
func (c *Config) Batch() BatchConfig        { return c.BatchCfg }

// -- Agent Setters --
func (c *Config) SetAgentDialect(d string)    { c.AgentCfg.Dialect = d }
func (c *Config) SetAgentMaxSteps(n int)      { c.AgentCfg.MaxSteps = n }
func (c *Config) SetAgentPreviewDir(d string) { c.AgentCfg.PreviewDir = d }

// -- Export Setters --
func (c *Config) SetExportJSONLPath(p string) { c.ExportCfg.JSONL.Path = p }

// -- Sandbox Setters --
func (c *Config) SetSandboxType(t SandboxType)  { c.SandboxCfg.Type = t }
func (c *Config) SetComputerServerURL(u string) { c.SandboxCfg.ComputerServer.URL = u }
func (c *Config) SetBrowserHeadless(b bool)     { c.SandboxCfg.Browser.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig configures the observe/infer/act loop.
type AgentConfig struct {
	Dialect      string `mapstructure:"dialect" yaml:"dialect"`
	MaxSteps     int    `mapstructure:"max_steps" yaml:"max_steps"`
	RetainImages int    `mapstructure:"retain_images" yaml:"retain_images"`
	// MaxImageDim bounds the longer side of frames sent to the model.
	MaxImageDim int `mapstructure:"max_image_dim" yaml:"max_image_dim"`
	// ImageMinTokens and ImageMaxTokens size the smart-resize model space.
	ImageMinTokens    int  `mapstructure:"image_min_tokens" yaml:"image_min_tokens"`
	ImageMaxTokens    int  `mapstructure:"image_max_tokens" yaml:"image_max_tokens"`
	NativeCoordinates bool `mapstructure:"native_coordinates" yaml:"native_coordinates"`

	Guard    GuardConfig    `mapstructure:"guard" yaml:"guard"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`

	CaptureDelay     time.Duration `mapstructure:"capture_delay" yaml:"capture_delay"`
	ParseFailureWait time.Duration `mapstructure:"parse_failure_wait" yaml:"parse_failure_wait"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	PreviewDir       string        `mapstructure:"preview_dir" yaml:"preview_dir"`
}

// GuardConfig holds the loop detection thresholds.
type GuardConfig struct {
	RepeatThreshold    int           `mapstructure:"repeat_threshold" yaml:"repeat_threshold"`
	RepeatCeiling      int           `mapstructure:"repeat_ceiling" yaml:"repeat_ceiling"`
	UnchangedThreshold int           `mapstructure:"unchanged_threshold" yaml:"unchanged_threshold"`
	CoordinateGrid     float64       `mapstructure:"coordinate_grid" yaml:"coordinate_grid"`
	EdgeMargin         float64       `mapstructure:"edge_margin" yaml:"edge_margin"`
	ChangeThreshold    float64       `mapstructure:"change_threshold" yaml:"change_threshold"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// TimeoutsConfig bounds each external call of a step.
type TimeoutsConfig struct {
	Inference time.Duration `mapstructure:"inference" yaml:"inference"`
	Execution time.Duration `mapstructure:"execution" yaml:"execution"`
	Planner   time.Duration `mapstructure:"planner" yaml:"planner"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for a single model endpoint.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RateLimit is requests per second shared by every run using this
	// endpoint. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// PlannerConfig configures the external recovery and task planner.
type PlannerConfig struct {
	Enabled          bool           `mapstructure:"enabled" yaml:"enabled"`
	EscalationBudget int            `mapstructure:"escalation_budget" yaml:"escalation_budget"`
	LLM              LLMModelConfig `mapstructure:"llm" yaml:"llm"`
}

// SandboxType selects the execution and capture backend.
type SandboxType string

const (
	SandboxComputerServer SandboxType = "computer_server"
	SandboxBrowser        SandboxType = "browser"
)

// SandboxConfig configures the sandboxed session the agent drives.
type SandboxConfig struct {
	Type           SandboxType          `mapstructure:"type" yaml:"type"`
	ComputerServer ComputerServerConfig `mapstructure:"computer_server" yaml:"computer_server"`
	Browser        BrowserConfig        `mapstructure:"browser" yaml:"browser"`
}

// ComputerServerConfig points at a REST computer-use server inside a VM or container.
type ComputerServerConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
}

// BrowserConfig configures the headless browser sandbox.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	StartURL string `mapstructure:"start_url" yaml:"start_url"`
	Width    int    `mapstructure:"width" yaml:"width"`
	Height   int    `mapstructure:"height" yaml:"height"`
}

// ExportConfig selects where step records go.
type ExportConfig struct {
	JSONL    JSONLConfig    `mapstructure:"jsonl" yaml:"jsonl"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// JSONLConfig writes one JSON document per line. A ".br" suffix enables
// brotli compression.
type JSONLConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the connection string for pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// BatchConfig configures concurrent runs. Each computer-server URL is one
// session; for the browser sandbox, Sessions browsers are started.
type BatchConfig struct {
	Sessions   int      `mapstructure:"sessions" yaml:"sessions"`
	ServerURLs []string `mapstructure:"server_urls" yaml:"server_urls"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.dialect", "fara")
	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.retain_images", 3)
	v.SetDefault("agent.max_image_dim", 1280)
	v.SetDefault("agent.image_min_tokens", 0)
	v.SetDefault("agent.image_max_tokens", 0)
	v.SetDefault("agent.native_coordinates", false)
	v.SetDefault("agent.capture_delay", "1s")
	v.SetDefault("agent.parse_failure_wait", "1s")
	v.SetDefault("agent.retry_interval", "500ms")
	v.SetDefault("agent.preview_dir", "")

	// -- Agent Guard --
	v.SetDefault("agent.guard.repeat_threshold", 3)
	v.SetDefault("agent.guard.repeat_ceiling", 6)
	v.SetDefault("agent.guard.unchanged_threshold", 3)
	v.SetDefault("agent.guard.coordinate_grid", 0.01)
	v.SetDefault("agent.guard.edge_margin", 0.005)
	v.SetDefault("agent.guard.change_threshold", 0.01)
	v.SetDefault("agent.guard.settle_delay", "0s")

	// -- Agent Timeouts --
	v.SetDefault("agent.timeouts.inference", "120s")
	v.SetDefault("agent.timeouts.execution", "30s")
	v.SetDefault("agent.timeouts.planner", "60s")

	// -- Inference --
	v.SetDefault("inference.provider", string(ProviderOpenAI))
	v.SetDefault("inference.endpoint", "http://127.0.0.1:8080/v1")
	v.SetDefault("inference.model", "fara-7b")
	v.SetDefault("inference.api_timeout", "120s")
	v.SetDefault("inference.temperature", 0.0)
	v.SetDefault("inference.max_tokens", 1024)
	v.SetDefault("inference.rate_limit", 0.0)
	v.SetDefault("inference.rate_burst", 1)

	// -- Planner --
	v.SetDefault("planner.enabled", false)
	v.SetDefault("planner.escalation_budget", 2)
	v.SetDefault("planner.llm.provider", string(ProviderOpenAI))
	v.SetDefault("planner.llm.endpoint", "https://openrouter.ai/api/v1")
	v.SetDefault("planner.llm.model", "anthropic/claude-sonnet-4")
	v.SetDefault("planner.llm.api_timeout", "60s")
	v.SetDefault("planner.llm.max_tokens", 1024)
	v.SetDefault("planner.llm.rate_burst", 1)

	// -- Sandbox --
	v.SetDefault("sandbox.type", string(SandboxComputerServer))
	v.SetDefault("sandbox.computer_server.url", "http://127.0.0.1:8000")
	v.SetDefault("sandbox.computer_server.request_timeout", "30s")
	v.SetDefault("sandbox.computer_server.ready_timeout", "60s")
	v.SetDefault("sandbox.browser.headless", true)
	v.SetDefault("sandbox.browser.start_url", "about:blank")
	v.SetDefault("sandbox.browser.width", 1280)
	v.SetDefault("sandbox.browser.height", 720)

	// -- Export --
	v.SetDefault("export.jsonl.path", "")
	v.SetDefault("export.postgres.enabled", false)
	v.SetDefault("export.postgres.host", "localhost")
	v.SetDefault("export.postgres.port", 5432)
	v.SetDefault("export.postgres.user", "postgres")
	v.SetDefault("export.postgres.password", "") // Should be set via env var
	v.SetDefault("export.postgres.dbname", "deskpilot")
	v.SetDefault("export.postgres.sslmode", "disable")

	// -- Batch --
	v.SetDefault("batch.sessions", 1)
}

// ConfigureViper sets the search path, env prefix and key replacer. cfgFile,
// when set, overrides the search path.
func ConfigureViper(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.deskpilot")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("DESKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("inference.api_key", "DESKPILOT_INFERENCE_API_KEY")
	_ = v.BindEnv("planner.llm.api_key", "DESKPILOT_PLANNER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("export.postgres.password", "DESKPILOT_PG_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the planner key if Unmarshal didn't pick it up
	if cfg.PlannerCfg.Enabled && cfg.PlannerCfg.LLM.APIKey == "" {
		cfg.PlannerCfg.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.ExportCfg.JSONL.Path, &c.AgentCfg.PreviewDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.InferenceCfg.Validate(); err != nil {
		return fmt.Errorf("inference configuration invalid: %w", err)
	}
	if err := c.PlannerCfg.Validate(); err != nil {
		return fmt.Errorf("planner configuration invalid: %w", err)
	}
	if err := c.SandboxCfg.Validate(); err != nil {
		return fmt.Errorf("sandbox configuration invalid: %w", err)
	}
	if c.BatchCfg.Sessions < 1 {
		return fmt.Errorf("batch.sessions must be a positive integer")
	}
	return nil
}

// Validate checks the agent loop settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.RetainImages < 0 {
		return fmt.Errorf("retain_images cannot be negative")
	}
	if a.MaxImageDim < 64 {
		return fmt.Errorf("max_image_dim must be at least 64")
	}
	if a.Guard.RepeatThreshold < 1 || a.Guard.UnchangedThreshold < 1 {
		return fmt.Errorf("guard thresholds must be positive")
	}
	if a.Guard.RepeatCeiling <= a.Guard.RepeatThreshold {
		return fmt.Errorf("guard.repeat_ceiling must exceed guard.repeat_threshold")
	}
	if a.Timeouts.Inference <= 0 || a.Timeouts.Execution <= 0 {
		return fmt.Errorf("timeouts.inference and timeouts.execution must be positive durations")
	}
	return nil
}

// Validate checks a model endpoint.
func (m *LLMModelConfig) Validate() error {
	switch m.Provider {
	case ProviderOpenAI:
	case ProviderGemini:
		if m.APIKey == "" {
			return fmt.Errorf("gemini requires an api_key")
		}
	default:
		return fmt.Errorf("unknown provider %q (supported: %s, %s)", m.Provider, ProviderOpenAI, ProviderGemini)
	}
	if m.Model == "" {
		return fmt.Errorf("model is required")
	}
	if m.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	return nil
}

// Validate checks the planner section.
func (p *PlannerConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.EscalationBudget < 0 {
		return fmt.Errorf("escalation_budget cannot be negative")
	}
	return p.LLM.Validate()
}

// Validate checks the sandbox section.
func (s *SandboxConfig) Validate() error {
	switch s.Type {
	case SandboxComputerServer:
		if s.ComputerServer.URL == "" {
			return fmt.Errorf("computer_server.url is required")
		}
	case SandboxBrowser:
		if s.Browser.Width <= 0 || s.Browser.Height <= 0 {
			return fmt.Errorf("browser.width and browser.height must be positive")
		}
	default:
		return fmt.Errorf("unknown sandbox type %q", s.Type)
	}
	return nil
}
