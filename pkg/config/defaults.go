package config

import (
	"time"

	"github.com/spf13/viper"

	"pulsegate/pkg/model"
)

// DefaultAPIURL points at a local ingestion API; set api_url in production.
const DefaultAPIURL = "http://localhost:9000/v1"

var defaultIgnoredErrors = []string{
	"ResizeObserver loop limit exceeded",
	"ResizeObserver loop completed with undelivered notifications",
	"Script error.",
	"Script error",
	"Failed to fetch",
	"NetworkError when attempting to fetch resource",
	"Network request failed",
	"Load failed",
	"Loading chunk",
	"ChunkLoadError",
	"cancelled",
	"canceled",
	"The operation was aborted",
	"AbortError",
	"Illegal invocation",
}

var defaultExcludedPaths = []string{
	"horizon", "nova", "telescope", "admin", "filament",
	"api", "debugbar", "storage", "livewire", "_debugbar",
}

// DefaultConfig returns a safe default configuration. Delivery is disabled
// until an API key is provided.
func DefaultConfig() *Config {
	feature := func(enabled bool) FeatureConfig {
		return FeatureConfig{
			Enabled:       enabled,
			Queue:         true,
			QueueName:     "default",
			Timeout:       10 * time.Second,
			BatchMaxSize:  1000,
			BufferTTL:     time.Hour,
			BufferMaxSize: 5000,
		}
	}
	return &Config{
		Enabled: false,
		APIURL:  DefaultAPIURL,
		Server: ServerConfig{
			HTTPAddr: ":8080",
			TCPAddr:  ":8081",
			UDPAddr:  ":8082",
		},
		Cache: CacheConfig{
			Driver: "redis",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Channel: "pulsegate_control",
			},
		},
		Batch: BatchConfig{
			Interval:       time.Minute,
			LockTTL:        10 * time.Second,
			LockWait:       10 * time.Second,
			MaxAttempts:    3,
			Backoff:        []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
			ExhaustedPause: 15 * time.Minute,
			LaneSize:       4096,
		},
		Features: FeaturesConfig{
			Errors:           feature(true),
			Events:           feature(true),
			Logs:             feature(false),
			PageVisits:       feature(false),
			JavaScriptErrors: feature(false),
		},
		WebsiteAnalytics: AnalyticsConfig{
			ExcludedPaths: defaultExcludedPaths,
			UserAgentMin:  10,
			UserAgentMax:  1000,
			Throttle:      30 * time.Second,
		},
		JavaScriptErrors: JSErrorsConfig{
			SampleRate:     1.0,
			IgnoredErrors:  defaultIgnoredErrors,
			MaxBreadcrumbs: 20,
		},
		ErrorReporting: ErrorsConfig{
			MaxTraceLength: 5000,
		},
		InternalLogging: InternalLogConfig{
			Enabled: true,
			Level:   "info",
			Format:  "text",
		},
	}
}

// setDefaults registers every default with viper so that environment
// variables can override nested keys without a config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("key", "")
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("environment", "production")

	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.tcp_addr", d.Server.TCPAddr)
	v.SetDefault("server.udp_addr", d.Server.UDPAddr)

	v.SetDefault("cache.driver", d.Cache.Driver)
	v.SetDefault("cache.redis.address", d.Cache.Redis.Address)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.channel", d.Cache.Redis.Channel)

	v.SetDefault("batch.interval", d.Batch.Interval)
	v.SetDefault("batch.lock_ttl", d.Batch.LockTTL)
	v.SetDefault("batch.lock_wait", d.Batch.LockWait)
	v.SetDefault("batch.max_attempts", d.Batch.MaxAttempts)
	v.SetDefault("batch.backoff", d.Batch.Backoff)
	v.SetDefault("batch.exhausted_pause", d.Batch.ExhaustedPause)
	v.SetDefault("batch.lane_size", d.Batch.LaneSize)

	for _, f := range model.AllFeatures {
		fc := d.Feature(f)
		prefix := "features." + string(f) + "."
		v.SetDefault(prefix+"enabled", fc.Enabled)
		v.SetDefault(prefix+"queue", fc.Queue)
		v.SetDefault(prefix+"queue_name", fc.QueueName)
		v.SetDefault(prefix+"timeout", fc.Timeout)
		v.SetDefault(prefix+"batch_max_size", fc.BatchMaxSize)
		v.SetDefault(prefix+"buffer_ttl", fc.BufferTTL)
		v.SetDefault(prefix+"buffer_max_size", fc.BufferMaxSize)
	}

	v.SetDefault("logging.excluded_channels", []string{})

	v.SetDefault("website_analytics.excluded_paths", d.WebsiteAnalytics.ExcludedPaths)
	v.SetDefault("website_analytics.user_agent_min_length", d.WebsiteAnalytics.UserAgentMin)
	v.SetDefault("website_analytics.user_agent_max_length", d.WebsiteAnalytics.UserAgentMax)
	v.SetDefault("website_analytics.throttle", d.WebsiteAnalytics.Throttle)
	v.SetDefault("website_analytics.preserve_user_agent", false)

	v.SetDefault("javascript_errors.sample_rate", d.JavaScriptErrors.SampleRate)
	v.SetDefault("javascript_errors.ignored_errors", d.JavaScriptErrors.IgnoredErrors)
	v.SetDefault("javascript_errors.max_breadcrumbs", d.JavaScriptErrors.MaxBreadcrumbs)

	v.SetDefault("error_reporting.max_trace_length", d.ErrorReporting.MaxTraceLength)

	v.SetDefault("internal_logging.enabled", d.InternalLogging.Enabled)
	v.SetDefault("internal_logging.level", d.InternalLogging.Level)
	v.SetDefault("internal_logging.format", d.InternalLogging.Format)
	v.SetDefault("internal_logging.file", "")
}
