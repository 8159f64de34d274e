package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pulsegate/pkg/model"
)

// EnvPrefix is the prefix of environment overrides, e.g. PULSEGATE_KEY.
const EnvPrefix = "PULSEGATE"

// Config holds the configuration of a pulsegate instance.
// It is built once at start and passed to each component.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Key     string `mapstructure:"key" yaml:"key" validate:"required_if=Enabled true"`
	APIURL  string `mapstructure:"api_url" yaml:"api_url" validate:"required,url"`

	Environment string `mapstructure:"environment" yaml:"environment"`

	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch"`
	Features FeaturesConfig `mapstructure:"features" yaml:"features"`

	Logging          LogForwardConfig  `mapstructure:"logging" yaml:"logging"`
	WebsiteAnalytics AnalyticsConfig   `mapstructure:"website_analytics" yaml:"website_analytics"`
	JavaScriptErrors JSErrorsConfig    `mapstructure:"javascript_errors" yaml:"javascript_errors"`
	ErrorReporting   ErrorsConfig      `mapstructure:"error_reporting" yaml:"error_reporting"`
	InternalLogging  InternalLogConfig `mapstructure:"internal_logging" yaml:"internal_logging"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	TCPAddr  string `mapstructure:"tcp_addr" yaml:"tcp_addr"`
	UDPAddr  string `mapstructure:"udp_addr" yaml:"udp_addr"`
}

type CacheConfig struct {
	Driver string      `mapstructure:"driver" yaml:"driver" validate:"oneof=redis memory"`
	Redis  RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" yaml:"channel"` // control pub/sub channel
}

// BatchConfig governs the dispatcher and the buffer locks.
type BatchConfig struct {
	Interval       time.Duration   `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl" yaml:"lock_ttl" validate:"gt=0"`
	LockWait       time.Duration   `mapstructure:"lock_wait" yaml:"lock_wait" validate:"gte=0"`
	MaxAttempts    int             `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	Backoff        []time.Duration `mapstructure:"backoff" yaml:"backoff"`
	ExhaustedPause time.Duration   `mapstructure:"exhausted_pause" yaml:"exhausted_pause" validate:"gt=0"`
	LaneSize       uint64          `mapstructure:"lane_size" yaml:"lane_size" validate:"gte=2"`
}

// FeatureConfig is the typed per-feature configuration.
type FeatureConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Queue         bool          `mapstructure:"queue" yaml:"queue"`
	QueueName     string        `mapstructure:"queue_name" yaml:"queue_name" validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	BatchMaxSize  int           `mapstructure:"batch_max_size" yaml:"batch_max_size" validate:"gte=1"`
	BufferTTL     time.Duration `mapstructure:"buffer_ttl" yaml:"buffer_ttl" validate:"gt=0"`
	BufferMaxSize int           `mapstructure:"buffer_max_size" yaml:"buffer_max_size" validate:"gte=1"`
}

type FeaturesConfig struct {
	Errors           FeatureConfig `mapstructure:"errors" yaml:"errors"`
	Events           FeatureConfig `mapstructure:"events" yaml:"events"`
	Logs             FeatureConfig `mapstructure:"logs" yaml:"logs"`
	PageVisits       FeatureConfig `mapstructure:"page_visits" yaml:"page_visits"`
	JavaScriptErrors FeatureConfig `mapstructure:"javascript_errors" yaml:"javascript_errors"`
}

type LogForwardConfig struct {
	ExcludedChannels []string `mapstructure:"excluded_channels" yaml:"excluded_channels"`
}

type AnalyticsConfig struct {
	ExcludedPaths     []string      `mapstructure:"excluded_paths" yaml:"excluded_paths"`
	UserAgentMin      int           `mapstructure:"user_agent_min_length" yaml:"user_agent_min_length" validate:"gte=0"`
	UserAgentMax      int           `mapstructure:"user_agent_max_length" yaml:"user_agent_max_length" validate:"gtefield=UserAgentMin"`
	Throttle          time.Duration `mapstructure:"throttle" yaml:"throttle" validate:"gte=0"`
	PreserveUserAgent bool          `mapstructure:"preserve_user_agent" yaml:"preserve_user_agent"`
}

type JSErrorsConfig struct {
	SampleRate     float64  `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
	IgnoredErrors  []string `mapstructure:"ignored_errors" yaml:"ignored_errors"`
	MaxBreadcrumbs int      `mapstructure:"max_breadcrumbs" yaml:"max_breadcrumbs" validate:"gte=0"`
}

type ErrorsConfig struct {
	MaxTraceLength int `mapstructure:"max_trace_length" yaml:"max_trace_length" validate:"gte=0"`
}

// InternalLogConfig configures the isolated diagnostics channel.
type InternalLogConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format  string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	File    string `mapstructure:"file" yaml:"file"`
}

// Feature returns the configuration of one feature.
func (c *Config) Feature(f model.Feature) FeatureConfig {
	switch f {
	case model.Errors:
		return c.Features.Errors
	case model.Events:
		return c.Features.Events
	case model.Logs:
		return c.Features.Logs
	case model.PageVisits:
		return c.Features.PageVisits
	case model.JavaScriptErrors:
		return c.Features.JavaScriptErrors
	}
	return FeatureConfig{}
}

// EnabledFeatures lists the features that are switched on.
func (c *Config) EnabledFeatures() []model.Feature {
	var out []model.Feature
	for _, f := range model.AllFeatures {
		if c.Feature(f).Enabled {
			out = append(out, f)
		}
	}
	return out
}

// MaxBufferSize is the largest per-feature buffer size configured.
func (c *Config) MaxBufferSize() int {
	largest := 0
	for _, f := range model.AllFeatures {
		if s := c.Feature(f).BufferMaxSize; s > largest {
			largest = s
		}
	}
	return largest
}

var validate = validator.New()

// Validate checks the configuration against its struct rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Batch.Backoff) == 0 {
		return errors.New("invalid config: batch.backoff must list at least one delay")
	}
	return nil
}

// Load reads the optional YAML file at path, applies PULSEGATE_* environment
// overrides on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YAML renders the configuration with the API key redacted.
func (c *Config) YAML() ([]byte, error) {
	cp := *c
	if cp.Key != "" {
		cp.Key = "********"
	}
	if cp.Cache.Redis.Password != "" {
		cp.Cache.Redis.Password = "********"
	}
	return yaml.Marshal(&cp)
}
