package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Weather   WeatherConfig   `yaml:"weather" mapstructure:"weather"`
	AIS       AISConfig       `yaml:"ais" mapstructure:"ais"`
	Narrative NarrativeConfig `yaml:"narrative" mapstructure:"narrative"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka" mapstructure:"kafka"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// TemporalConfig configures the connection to the Temporal frontend.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	PublicBaseURL  string   `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// WorkerConfig configures the standalone Temporal worker.
type WorkerConfig struct {
	MetricsPort                int `yaml:"metrics_port" mapstructure:"metrics_port"`
	MaxConcurrentActivities    int `yaml:"max_concurrent_activities" mapstructure:"max_concurrent_activities"`
	MaxConcurrentWorkflowTasks int `yaml:"max_concurrent_workflow_tasks" mapstructure:"max_concurrent_workflow_tasks"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// WeatherConfig holds OpenWeatherMap settings.
type WeatherConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	MaxVisibility  int     `yaml:"max_visibility" mapstructure:"max_visibility"`
	RequestsPerMin float64 `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AISConfig holds the vessel proximity service settings.
type AISConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TailHours        float64 `yaml:"tail_hours" mapstructure:"tail_hours"`
	SimWindowMinutes int     `yaml:"sim_window_minutes" mapstructure:"sim_window_minutes"`
	MinRadiusKm      float64 `yaml:"min_radius_km" mapstructure:"min_radius_km"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NarrativeConfig selects and tunes the narrative generator.
type NarrativeConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// StorageConfig configures S3-compatible image storage.
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	Region        string `yaml:"region" mapstructure:"region"`
	UseSSL        bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// Enabled reports whether enough is configured to upload images.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// KafkaConfig configures the report events feed.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// Enabled reports whether the events feed should be wired.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// MetricsConfig configures the snapshot sink.
type MetricsConfig struct {
	Capacity          int `yaml:"capacity" mapstructure:"capacity"`
	NarrativeLabelMax int `yaml:"narrative_label_max" mapstructure:"narrative_label_max"`
}

// PipelineConfig configures step timeouts and retries.
type PipelineConfig struct {
	Retry                   RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Timeouts                TimeoutsConfig `yaml:"timeouts" mapstructure:"timeouts"`
	DefaultTrustScore       float64        `yaml:"default_trust_score" mapstructure:"default_trust_score"`
	MetadataTimeoutMs       int            `yaml:"metadata_timeout_ms" mapstructure:"metadata_timeout_ms"`
	CircuitFailureThreshold int            `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int            `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// RetryConfig mirrors the retry policy applied to every step.
type RetryConfig struct {
	InitialIntervalSecs int     `yaml:"initial_interval_secs" mapstructure:"initial_interval_secs"`
	BackoffCoefficient  float64 `yaml:"backoff_coefficient" mapstructure:"backoff_coefficient"`
	MaxIntervalSecs     int     `yaml:"max_interval_secs" mapstructure:"max_interval_secs"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// TimeoutsConfig holds per-step start-to-close timeouts in seconds.
type TimeoutsConfig struct {
	ReportNumberSecs int `yaml:"report_number_secs" mapstructure:"report_number_secs"`
	VisibilitySecs   int `yaml:"visibility_secs" mapstructure:"visibility_secs"`
	VesselsSecs      int `yaml:"vessels_secs" mapstructure:"vessels_secs"`
	TrustSecs        int `yaml:"trust_secs" mapstructure:"trust_secs"`
	NarrativeSecs    int `yaml:"narrative_secs" mapstructure:"narrative_secs"`
	MetricsSecs      int `yaml:"metrics_secs" mapstructure:"metrics_secs"`
	PublishSecs      int `yaml:"publish_secs" mapstructure:"publish_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory, when present, is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGHTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("temporal.host_port", "127.0.0.1:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.api_key", "")
	v.SetDefault("temporal.task_queue", "ship-processing")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("worker.metrics_port", 9464)
	v.SetDefault("worker.max_concurrent_activities", 0)
	v.SetDefault("worker.max_concurrent_workflow_tasks", 0)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("weather.key", "")
	v.SetDefault("weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.max_visibility", 10000)
	v.SetDefault("weather.requests_per_min", 60)
	v.SetDefault("weather.timeout_secs", 10)
	v.SetDefault("ais.base_url", "http://127.0.0.1:8000")
	v.SetDefault("ais.tail_hours", 0.1)
	v.SetDefault("ais.sim_window_minutes", 120)
	v.SetDefault("ais.min_radius_km", 1.0)
	v.SetDefault("ais.timeout_secs", 15)
	v.SetDefault("narrative.provider", "anthropic")
	v.SetDefault("narrative.max_tokens", 1024)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.prefix", "maritime-images/")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "sightings.enriched")
	v.SetDefault("metrics.capacity", 0)
	v.SetDefault("metrics.narrative_label_max", 256)
	v.SetDefault("pipeline.retry.initial_interval_secs", 5)
	v.SetDefault("pipeline.retry.backoff_coefficient", 2.0)
	v.SetDefault("pipeline.retry.max_interval_secs", 60)
	v.SetDefault("pipeline.retry.max_attempts", 5)
	v.SetDefault("pipeline.timeouts.report_number_secs", 10)
	v.SetDefault("pipeline.timeouts.visibility_secs", 10)
	v.SetDefault("pipeline.timeouts.vessels_secs", 10)
	v.SetDefault("pipeline.timeouts.trust_secs", 10)
	v.SetDefault("pipeline.timeouts.narrative_secs", 30)
	v.SetDefault("pipeline.timeouts.metrics_secs", 5)
	v.SetDefault("pipeline.timeouts.publish_secs", 10)
	v.SetDefault("pipeline.default_trust_score", 0.7)
	v.SetDefault("pipeline.metadata_timeout_ms", 2000)
	v.SetDefault("pipeline.circuit_failure_threshold", 5)
	v.SetDefault("pipeline.circuit_reset_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs at startup are present.
// Credentials that are only needed by a single pipeline step (weather and
// narrative keys) are checked by that step on first use instead.
func (c *Config) Validate(mode string) error {
	var missing []string

	needTemporal := mode == "serve" || mode == "worker" || mode == "submit" || mode == "status"
	needStore := mode == "serve" || mode == "worker" || mode == "migrate" || mode == "trust"

	if needTemporal {
		if c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port")
		}
		if c.Temporal.TaskQueue == "" {
			missing = append(missing, "temporal.task_queue")
		}
	}
	if needStore && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	if needStore && c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if mode == "serve" || mode == "worker" {
		switch c.Narrative.Provider {
		case "anthropic", "openai":
		default:
			return eris.Errorf("config: unsupported narrative provider %q", c.Narrative.Provider)
		}
		if c.Pipeline.DefaultTrustScore < 0 || c.Pipeline.DefaultTrustScore > 1 {
			return eris.Errorf("config: pipeline.default_trust_score %v outside [0,1]", c.Pipeline.DefaultTrustScore)
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
