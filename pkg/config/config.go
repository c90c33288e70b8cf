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

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string `yaml:"output" default:"stdout" validate:"required"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"signalpulse.logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Provider struct {
		Name         string        `yaml:"name" default:"coingecko"`
		BaseURL      string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"required,url"`
		APIKey       string        `yaml:"api_key"`
		APIKeyHeader string        `yaml:"api_key_header" default:"x-cg-demo-api-key"`
		VsCurrency   string        `yaml:"vs_currency" default:"usd"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
		BatchSize    int           `yaml:"batch_size" default:"50" validate:"gte=1,lte=250"`
		HistoryDays  int           `yaml:"history_days" default:"90" validate:"gte=0,lte=365"`
	} `yaml:"provider"`
	Symbols   []SymbolConfig `yaml:"symbols" validate:"required,min=1,dive"`
	Scheduler struct {
		Interval      time.Duration `yaml:"interval" default:"240s" validate:"gte=1s"`
		CycleTimeout  time.Duration `yaml:"cycle_timeout" default:"180s" validate:"gt=0"`
		SymbolTimeout time.Duration `yaml:"symbol_timeout" default:"15s" validate:"gt=0"`
		SinkTimeout   time.Duration `yaml:"sink_timeout" default:"10s" validate:"gt=0"`
		Workers       int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
		Lease         struct {
			Enabled bool          `yaml:"enabled"`
			Key     string        `yaml:"key" default:"cycle"`
			TTL     time.Duration `yaml:"ttl" default:"5m"`
		} `yaml:"lease"`
	} `yaml:"scheduler"`
	RateLimit struct {
		Window            time.Duration `yaml:"window" default:"1m" validate:"gt=0"`
		PerWindow         int           `yaml:"per_window" default:"30" validate:"gte=1"`
		MonthlyQuota      int64         `yaml:"monthly_quota" default:"10000" validate:"gte=1"`
		FailureThreshold  int           `yaml:"failure_threshold" default:"5" validate:"gte=1"`
		Cooldown          time.Duration `yaml:"cooldown" default:"60s" validate:"gt=0"`
		HalfOpenSuccesses int           `yaml:"half_open_successes" default:"2" validate:"gte=1"`
	} `yaml:"rate_limit"`
	Timeframes []TimeframeConfig `yaml:"timeframes" validate:"omitempty,dive"`
	Confluence ConfluenceConfig  `yaml:"confluence"`
	Redis      struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr" default:"localhost:6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		KeyPrefix    string        `yaml:"key_prefix" default:"signalpulse"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"3s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"3s"`
		MirrorTTL    time.Duration `yaml:"mirror_ttl" default:"1h"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		SignalsTopic   string   `yaml:"signals_topic" default:"signalpulse.signals"`
		RecomputeTopic string   `yaml:"recompute_topic" default:"signalpulse.recompute"`
		RequiredAcks   int      `yaml:"required_acks" default:"1"`
		Compression    string   `yaml:"compression" default:"snappy"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"signalpulse"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"16"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table" default:"signal_journal"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

// SymbolConfig is one tracked symbol. Active defaults to true when omitted.
type SymbolConfig struct {
	Symbol     string `yaml:"symbol" validate:"required"`
	ProviderID string `yaml:"provider_id" validate:"required"`
	Active     *bool  `yaml:"active"`
}

// IsActive reports whether the symbol takes part in cycles.
func (s SymbolConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// TimeframeConfig holds the lookback, indicator periods and risk parameters of one analysis horizon.
type TimeframeConfig struct {
	Name            string        `yaml:"name" validate:"required"`
	Bar             time.Duration `yaml:"bar" validate:"gte=0"`
	Lookback        int           `yaml:"lookback" default:"200" validate:"gte=2"`
	RSIPeriod       int           `yaml:"rsi_period" default:"14" validate:"gte=2"`
	MACDFast        int           `yaml:"macd_fast" default:"12" validate:"gte=1"`
	MACDSlow        int           `yaml:"macd_slow" default:"26" validate:"gtfield=MACDFast"`
	MACDSignal      int           `yaml:"macd_signal" default:"9" validate:"gte=1"`
	BollingerPeriod int           `yaml:"bollinger_period" default:"20" validate:"gte=2"`
	BollingerStdDev float64       `yaml:"bollinger_stddev" default:"2" validate:"gt=0"`
	StochK          int           `yaml:"stoch_k" default:"14" validate:"gte=1"`
	StochD          int           `yaml:"stoch_d" default:"3" validate:"gte=1"`
	ATRPeriod       int           `yaml:"atr_period" default:"14" validate:"gte=1"`
	SMAFast         int           `yaml:"sma_fast" default:"20" validate:"gte=1"`
	SMASlow         int           `yaml:"sma_slow" default:"50" validate:"gtfield=SMAFast"`
	VolumePeriod    int           `yaml:"volume_period" default:"20" validate:"gte=1"`
	StopLossPct     float64       `yaml:"stop_loss_pct" validate:"gte=0,lt=100"`
	RiskReward      float64       `yaml:"risk_reward" validate:"gte=0"`
}

// ConfluenceConfig holds the fixed category weights and confidence shaping constants.
type ConfluenceConfig struct {
	Weights struct {
		Trend      float64 `yaml:"trend" default:"0.35" validate:"gte=0"`
		Momentum   float64 `yaml:"momentum" default:"0.30" validate:"gte=0"`
		Volatility float64 `yaml:"volatility" default:"0.20" validate:"gte=0"`
		Volume     float64 `yaml:"volume" default:"0.15" validate:"gte=0"`
	} `yaml:"weights"`
	DirectionThreshold float64 `yaml:"direction_threshold" default:"0.1" validate:"gte=0,lte=1"`
	MinAgreement       float64 `yaml:"min_agreement" default:"0.55" validate:"gte=0,lte=1"`
	AgreementScale     float64 `yaml:"agreement_scale" default:"80" validate:"gte=0,lte=100"`
	ConfluenceBonus    float64 `yaml:"confluence_bonus" default:"8" validate:"gte=0"`
	StalePenalty       float64 `yaml:"stale_penalty" default:"15" validate:"gte=0"`
	FallbackPenalty    float64 `yaml:"fallback_penalty" default:"3" validate:"gte=0"`
	NeutralConfidence  float64 `yaml:"neutral_confidence" default:"50" validate:"gte=0,lte=100"`
	NeutralFloor       float64 `yaml:"neutral_floor" default:"40" validate:"gte=0,lte=100"`
	NeutralCeiling     float64 `yaml:"neutral_ceiling" default:"60" validate:"gtefield=NeutralFloor,lte=100"`
}

// riskDefaults maps well-known timeframe names to stop-loss percent and risk:reward.
var riskDefaults = map[string][2]float64{
	"15m": {1.0, 1.5},
	"1h":  {1.5, 1.5},
	"4h":  {2.5, 2.0},
	"1d":  {4.0, 3.0},
	"1w":  {7.0, 3.0},
}

// DefaultTimeframes is used when the config file does not list any.
func DefaultTimeframes() []TimeframeConfig {
	names := []string{"1h", "4h", "1d"}
	out := make([]TimeframeConfig, 0, len(names))
	for _, n := range names {
		tf := TimeframeConfig{Name: n}
		_ = tf.applyDefaults()
		out = append(out, tf)
	}
	return out
}

func (t *TimeframeConfig) applyDefaults() error {
	if err := defaults.Set(t); err != nil {
		return err
	}
	if t.Bar == 0 {
		d, err := ParseTimeframe(t.Name)
		if err != nil {
			return err
		}
		t.Bar = d
	}
	risk, ok := riskDefaults[t.Name]
	if !ok {
		risk = [2]float64{2.0, 2.0}
	}
	if t.StopLossPct == 0 {
		t.StopLossPct = risk[0]
	}
	if t.RiskReward == 0 {
		t.RiskReward = risk[1]
	}
	return nil
}

// ParseTimeframe converts names like "15m", "4h", "1d", "1w" into a bar length.
func ParseTimeframe(name string) (time.Duration, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", name)
	}
	n, err := strconv.Atoi(name[:len(name)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", name)
	}
	switch name[len(name)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe unit in %q", name)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from raw YAML: defaults first, then the document, then validation.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.finalize(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SIGNALPULSE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := getenv("PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := getenv("CYCLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CYCLE_INTERVAL: %w", err)
		}
		c.Scheduler.Interval = d
	}
	if v := getenv("RATE_LIMIT_PER_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_PER_WINDOW: %w", err)
		}
		c.RateLimit.PerWindow = n
	}
	if v := getenv("RATE_LIMIT_MONTHLY_QUOTA"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_MONTHLY_QUOTA: %w", err)
		}
		c.RateLimit.MonthlyQuota = n
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("SERVER_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) finalize() error {
	if len(c.Timeframes) == 0 {
		c.Timeframes = DefaultTimeframes()
	}
	for i := range c.Timeframes {
		if err := c.Timeframes[i].applyDefaults(); err != nil {
			return fmt.Errorf("timeframes[%d]: %w", i, err)
		}
	}
	return c.Validate()
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if _, dup := seen[tf.Name]; dup {
			return fmt.Errorf("duplicate timeframe %q", tf.Name)
		}
		seen[tf.Name] = struct{}{}
		// The take-profit distance is stop*rr; at 100% or more a short target would be <= 0.
		if tf.StopLossPct*tf.RiskReward >= 100 {
			return fmt.Errorf("timeframe %q: stop_loss_pct*risk_reward (%g) must stay below 100",
				tf.Name, tf.StopLossPct*tf.RiskReward)
		}
	}
	symbols := make(map[string]struct{}, len(c.Symbols))
	active := 0
	for _, s := range c.Symbols {
		if _, dup := symbols[s.Symbol]; dup {
			return fmt.Errorf("duplicate symbol %q", s.Symbol)
		}
		symbols[s.Symbol] = struct{}{}
		if s.IsActive() {
			active++
		}
	}
	if active == 0 {
		return errors.New("at least one active symbol is required")
	}
	w := c.Confluence.Weights
	if w.Trend+w.Momentum+w.Volatility+w.Volume <= 0 {
		return errors.New("confluence weights must not all be zero")
	}
	if c.Scheduler.SymbolTimeout > c.Scheduler.CycleTimeout {
		return fmt.Errorf("scheduler.symbol_timeout (%s) exceeds cycle_timeout (%s)",
			c.Scheduler.SymbolTimeout, c.Scheduler.CycleTimeout)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Scheduler.Lease.Enabled && c.Scheduler.Lease.TTL <= c.MaxCycleRuntime() {
		return fmt.Errorf("scheduler.lease.ttl (%s) must exceed the longest cycle (%s)",
			c.Scheduler.Lease.TTL, c.MaxCycleRuntime())
	}
	return nil
}

// SinkCount is the number of sinks a cycle publishes to. The websocket hub is always on.
func (c *Config) SinkCount() int {
	n := 1
	if c.Kafka.Enabled {
		n++
	}
	if c.Redis.Enabled {
		n++
	}
	if c.ClickHouse.Enabled {
		n++
	}
	return n
}

// MaxCycleRuntime bounds how long one cycle can hold the lease: the cycle deadline
// plus one sink timeout per sink, since sinks publish sequentially after the swap.
func (c *Config) MaxCycleRuntime() time.Duration {
	return c.Scheduler.CycleTimeout + time.Duration(c.SinkCount())*c.Scheduler.SinkTimeout
}

// Timeframe returns the named timeframe config.
func (c *Config) Timeframe(name string) (TimeframeConfig, bool) {
	for _, tf := range c.Timeframes {
		if tf.Name == name {
			return tf, true
		}
	}
	return TimeframeConfig{}, false
}
