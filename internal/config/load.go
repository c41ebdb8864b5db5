package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CUA"

// SetDefaults registers every key with its default so environment overrides
// and Unmarshal see the complete key set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.cors_origins", []string{"chrome-extension://*", "http://localhost:*"})

	v.SetDefault("bridge.heartbeat_interval", DefaultHeartbeat)
	v.SetDefault("bridge.selection", "first")

	v.SetDefault("llm.base_url", DefaultLLMBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.temperature", DefaultLLMTemperature)
	v.SetDefault("llm.timeout", DefaultLLMTimeout)
	v.SetDefault("llm.max_retries", DefaultLLMMaxRetries)

	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_base_delay", 2*time.Second)
	v.SetDefault("engine.max_steps", 20)
	v.SetDefault("engine.action_timeout", 20*time.Second)
	v.SetDefault("engine.observe_timeout", 5*time.Second)
	v.SetDefault("engine.content_timeout", 10*time.Second)
	v.SetDefault("engine.screenshot_timeout", 5*time.Second)
	v.SetDefault("engine.verification_delay", time.Second)
	v.SetDefault("engine.page_settle_delay", 2*time.Second)
	v.SetDefault("engine.typing_settle_factor", 1.5)
	v.SetDefault("engine.generic_settle_delay", 500*time.Millisecond)
	v.SetDefault("engine.step_pause", 500*time.Millisecond)
	v.SetDefault("engine.content_limit", 3000)
	v.SetDefault("engine.max_elements", 20)
	v.SetDefault("engine.oracle_timeout", 60*time.Second)

	v.SetDefault("tasks.keep_last", DefaultKeepLastTasks)
	v.SetDefault("tasks.cleanup_interval", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.zipkin_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
}

// NewViper returns a viper instance wired for cua: defaults, CUA_* environment
// variables, the OpenAI variables and the cua.yaml search path.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", envPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", envPrefix+"_LLM_BASE_URL", "OPENAI_BASE_URL")

	v.SetConfigName("cua")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	return v
}

// Load reads the optional config file (explicit path wins over the search
// path) and decodes the result. A missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("engine.max_retries must be >= 1, got %d", c.Engine.MaxRetries))
	}
	if c.Engine.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("engine.max_steps must be >= 1, got %d", c.Engine.MaxSteps))
	}
	if c.Engine.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.action_timeout must be positive"))
	}
	if c.Engine.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("engine.retry_base_delay must not be negative"))
	}
	if c.Engine.TypingSettleFactor < 0 {
		errs = append(errs, fmt.Errorf("engine.typing_settle_factor must not be negative"))
	}
	if c.Engine.ContentLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.content_limit must not be negative"))
	}
	if c.Tasks.KeepLast < 0 {
		errs = append(errs, fmt.Errorf("tasks.keep_last must not be negative"))
	}
	switch strings.ToLower(c.Bridge.Selection) {
	case "", "first", "last":
	default:
		errs = append(errs, fmt.Errorf("bridge.selection must be first or last, got %q", c.Bridge.Selection))
	}
	return errors.Join(errs...)
}
