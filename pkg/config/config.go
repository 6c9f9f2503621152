package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks every configuration problem detected at load time.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		ClientRPS       float64       `yaml:"client_rps" default:"0" validate:"gte=0"`
		ClientBurst     int           `yaml:"client_burst" default:"20" validate:"gte=0"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
		Topics  struct {
			Features  string `yaml:"features" default:"alpha.features"`
			PnL       string `yaml:"pnl" default:"alpha.pnl"`
			Decisions string `yaml:"decisions" default:"alpha.decisions"`
		} `yaml:"topics"`
		RequiredAcks int    `yaml:"required_acks" default:"1"`
		Compression  string `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"alphablend"`
			Workers    int           `yaml:"workers" default:"4" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"alpha"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Table        string        `yaml:"table" default:"alpha_decisions"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"alphablend:"`
		PoolSize int    `yaml:"pool_size" default:"10" validate:"gt=0"`

		// Used only when Redis is disabled.
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1000" validate:"gt=0"`
		MemoryCleanup time.Duration `yaml:"memory_cleanup" default:"5m" validate:"gt=0"`
	} `yaml:"redis"`
	ModelService ModelServiceConfig `yaml:"model_service"`
	Ingest       struct {
		MaxRPSPerSymbol float64       `yaml:"max_rps_per_symbol" default:"0" validate:"gte=0"`
		SinkTimeout     time.Duration `yaml:"sink_timeout" default:"2s" validate:"gt=0"`
	} `yaml:"ingest"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Pods      PodsConfig      `yaml:"pods"`
}

// ModelServiceConfig points the gradient-boosted pod at the model server.
type ModelServiceConfig struct {
	URL             string        `yaml:"url" validate:"omitempty,url"`
	Timeout         time.Duration `yaml:"timeout" default:"2s" validate:"gt=0"`
	RPS             float64       `yaml:"rps" default:"50" validate:"gt=0"`
	Burst           int           `yaml:"burst" default:"10" validate:"gt=0"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"3" validate:"gt=0"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

// AllocatorConfig holds the meta-allocator parameters.
type AllocatorConfig struct {
	UpdateFrequency        time.Duration `yaml:"update_frequency" default:"24h" validate:"gt=0"`
	MinPodWeight           float64       `yaml:"min_pod_weight" default:"0.05" validate:"gte=0,lte=1"`
	MaxPodWeight           float64       `yaml:"max_pod_weight" default:"0.5" validate:"gt=0,lte=1"`
	PerformanceWindowDays  int           `yaml:"performance_window_days" default:"30" validate:"gt=0"`
	SamplesPerDay          int           `yaml:"samples_per_day" default:"1" validate:"gt=0"`
	RegretCap              float64       `yaml:"regret_cap" default:"0.15" validate:"gt=0"`
	DiversificationPenalty float64       `yaml:"diversification_penalty" default:"0.1" validate:"gte=0,lt=1"`
	LearningRate           float64       `yaml:"learning_rate" default:"0.01" validate:"gte=0"`
	RebalanceThreshold     float64       `yaml:"rebalance_threshold" default:"0.05" validate:"gte=0"`
	TickInterval           time.Duration `yaml:"tick_interval" default:"1m" validate:"gt=0"`
	SnapshotInterval       time.Duration `yaml:"snapshot_interval" default:"5m" validate:"gt=0"`
}

type PodsConfig struct {
	Trend           TrendConfig           `yaml:"trend"`
	MeanReversion   MeanReversionConfig   `yaml:"mean_reversion"`
	VolRegime       VolRegimeConfig       `yaml:"volatility_regime"`
	GradientBoosted GradientBoostedConfig `yaml:"boosted"`
}

type TrendConfig struct {
	Enabled             bool    `yaml:"enabled" default:"true"`
	Lookback            int     `yaml:"lookback" default:"20" validate:"gt=1"`
	ATRMultiplier       float64 `yaml:"atr_multiplier" default:"1.5" validate:"gt=0"`
	MinBreakoutStrength float64 `yaml:"min_breakout_strength" default:"0.5" validate:"gte=0"`
	MaxHoldBars         int     `yaml:"max_hold_bars" default:"48" validate:"gt=1"`
	MinATRPct           float64 `yaml:"min_atr_pct" default:"0.001" validate:"gte=0"`
}

type MeanReversionConfig struct {
	Enabled          bool    `yaml:"enabled" default:"true"`
	ShortPeriod      int     `yaml:"short_period" default:"10" validate:"gt=1"`
	LongPeriod       int     `yaml:"long_period" default:"50" validate:"gtfield=ShortPeriod"`
	ZScoreThreshold  float64 `yaml:"z_score_threshold" default:"2.0" validate:"gt=0"`
	FundingThreshold float64 `yaml:"funding_threshold" default:"0.0005" validate:"gte=0"`
	MaxHoldingPeriod int     `yaml:"max_holding_period" default:"48" validate:"gt=0"`
	MinConfidence    float64 `yaml:"min_confidence" default:"0.3" validate:"gte=0.3,lte=1"`
}

type VolRegimeConfig struct {
	Enabled           bool    `yaml:"enabled" default:"true"`
	VolWindow         int     `yaml:"vol_window" default:"20" validate:"gt=1"`
	PercentileWindow  int     `yaml:"percentile_window" default:"100" validate:"gt=1"`
	LowPercentile     float64 `yaml:"low_percentile" default:"0.3" validate:"gte=0,lte=1"`
	HighPercentile    float64 `yaml:"high_percentile" default:"0.7" validate:"gtfield=LowPercentile,lte=1"`
	RegimePersistence int     `yaml:"regime_persistence" default:"3" validate:"gt=0"`
	ZScoreThreshold   float64 `yaml:"z_score_threshold" default:"1.5" validate:"gt=0"`
	ShortMA           int     `yaml:"short_ma" default:"5" validate:"gt=0"`
	LongMA            int     `yaml:"long_ma" default:"20" validate:"gtfield=ShortMA"`
	BreakoutBars      int     `yaml:"breakout_bars" default:"10" validate:"gt=1"`
	MinConfidence     float64 `yaml:"min_confidence" default:"0.25" validate:"gte=0,lte=1"`
}

type GradientBoostedConfig struct {
	Enabled            bool          `yaml:"enabled" default:"true"`
	MinConfidence      float64       `yaml:"min_confidence" default:"0.25" validate:"gte=0,lte=1"`
	MaxMissingFeatures int           `yaml:"max_missing_features" default:"3" validate:"gte=0"`
	ModelTimeout       time.Duration `yaml:"model_timeout" default:"500ms" validate:"gt=0"`
	HistoryBars        int           `yaml:"history_bars" default:"64" validate:"gte=31"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a configuration with every `default` tag applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		c.ModelService.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate runs struct tag validation plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return c.Allocator.Validate()
}

// Validate checks the allocator bounds. A weight vector for n pods is only
// feasible when n*min <= 1, which is checked at registration time instead.
func (a AllocatorConfig) Validate() error {
	if a.MinPodWeight > a.MaxPodWeight {
		return fmt.Errorf("%w: allocator.min_pod_weight (%.4f) > allocator.max_pod_weight (%.4f)",
			ErrInvalid, a.MinPodWeight, a.MaxPodWeight)
	}
	return nil
}
