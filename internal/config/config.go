package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/clinicflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/clinicflow/internal/llm"
	"github.com/Kocoro-lab/clinicflow/internal/planner"
	"github.com/Kocoro-lab/clinicflow/internal/policy"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

// EnvPrefix namespaces environment overrides, e.g. CLINICFLOW_LLM_MODEL.
const EnvPrefix = "CLINICFLOW"

// ConfigPathEnv names the variable consulted when no path is given.
const ConfigPathEnv = "CLINICFLOW_CONFIG"

// Config is the full runtime configuration.
type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	LLM            llm.Config            `mapstructure:"llm"`
	Planner        planner.Config        `mapstructure:"planner"`
	Backend        BackendConfig         `mapstructure:"backend"`
	Policy         policy.Config         `mapstructure:"policy"`
	Tracing        tracing.Config        `mapstructure:"tracing"`
	Metrics        MetricsConfig         `mapstructure:"metrics"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig selects the fixtures served by the mock backend. An empty
// FixturesPath uses the built-in data.
type BackendConfig struct {
	FixturesPath string `mapstructure:"fixtures_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 150*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.model", llm.DefaultModel)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("planner.max_tokens", llm.DefaultMaxTokens)

	v.SetDefault("backend.fixtures_path", "")

	pd := policy.DefaultConfig()
	v.SetDefault("policy.enabled", pd.Enabled)
	v.SetDefault("policy.mode", string(pd.Mode))
	v.SetDefault("policy.path", pd.Path)
	v.SetDefault("policy.fail_closed", pd.FailClosed)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "clinicflow")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	cb := circuitbreaker.DefaultConfig()
	v.SetDefault("circuit_breaker.max_requests", cb.MaxRequests)
	v.SetDefault("circuit_breaker.interval", cb.Interval)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", cb.SuccessThreshold)
}

// newViper builds a viper instance with defaults, environment bindings and
// the config file location. path may be empty.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "HF_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("clinicflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing precedence.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Validate rejects values the services cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if u, err := url.Parse(c.LLM.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("llm.base_url %q must be an http(s) URL", c.LLM.BaseURL))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	// A planning failure costs every attempt its full timeout; the server
	// must still be able to write the 502 after that.
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= planner.MaxAttempts*c.LLM.Timeout {
		errs = append(errs, fmt.Errorf("server.write_timeout %s must exceed %d x llm.timeout (%s)",
			c.Server.WriteTimeout, planner.MaxAttempts, planner.MaxAttempts*c.LLM.Timeout))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must not be negative"))
	}
	if c.Planner.MaxTokens <= 0 {
		errs = append(errs, errors.New("planner.max_tokens must be positive"))
	}
	if !c.Policy.Mode.Valid() {
		errs = append(errs, fmt.Errorf("policy.mode %q must be off, dry-run or enforce", c.Policy.Mode))
	}
	if c.Policy.Enabled && c.Policy.Path == "" {
		errs = append(errs, errors.New("policy.path is required when policy is enabled"))
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("tracing.otlp_endpoint is required when tracing is enabled"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		errs = append(errs, errors.New("circuit_breaker.failure_threshold must be positive"))
	}
	if c.CircuitBreaker.Timeout <= 0 {
		errs = append(errs, errors.New("circuit_breaker.timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
