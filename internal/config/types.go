package config

import "time"

const (
	DefaultServerAddr     = ":8000"
	DefaultLLMModel       = "gpt-4o"
	DefaultLLMBaseURL     = "https://api.openai.com/v1"
	DefaultLLMTemperature = 0.1
	DefaultLLMTimeout     = 120 * time.Second
	DefaultLLMMaxRetries  = 2
	DefaultKeepLastTasks  = 100
	DefaultHeartbeat      = 30 * time.Second
)

// Config is the fully resolved service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig controls the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// BridgeConfig controls the browser extension connection.
type BridgeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Selection         string        `mapstructure:"selection"` // first, last
}

// LLMConfig describes the OpenAI-compatible endpoint used by the oracle.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// EngineConfig holds the retry, step and timing knobs of task execution.
type EngineConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	MaxSteps           int           `mapstructure:"max_steps"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout"`
	ObserveTimeout     time.Duration `mapstructure:"observe_timeout"`
	ContentTimeout     time.Duration `mapstructure:"content_timeout"`
	ScreenshotTimeout  time.Duration `mapstructure:"screenshot_timeout"`
	VerificationDelay  time.Duration `mapstructure:"verification_delay"`
	PageSettleDelay    time.Duration `mapstructure:"page_settle_delay"`
	TypingSettleFactor float64       `mapstructure:"typing_settle_factor"`
	GenericSettleDelay time.Duration `mapstructure:"generic_settle_delay"`
	StepPause          time.Duration `mapstructure:"step_pause"`
	ContentLimit       int           `mapstructure:"content_limit"`
	MaxElements        int           `mapstructure:"max_elements"`
	OracleTimeout      time.Duration `mapstructure:"oracle_timeout"`
}

// TasksConfig controls task retention.
type TasksConfig struct {
	KeepLast        int           `mapstructure:"keep_last"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig selects level and format of the process log.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
