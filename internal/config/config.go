package config

import "time"

type Config struct {
	Env         string       `yaml:"env" env:"APP_ENV"`
	Port        int          `yaml:"port" env:"PORT"`
	DatabaseURL string       `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string       `yaml:"redis_url" env:"REDIS_URL"`
	Logger      LoggerConfig `yaml:"logger"`

	Webhook   WebhookConfig   `yaml:"webhook"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Risk      RiskConfig      `yaml:"risk"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	Server ServerConfig `yaml:"server"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TrustedProxyIPHeaders []string `yaml:"trusted_proxy_ip_headers"`
	TrustedProxyCIDRs     []string `yaml:"trusted_proxy_cidrs"`
}

// WebhookConfig controls signature verification of inbound gateway calls.
// The signing secret is resolved in precedence order: AWS Secrets Manager
// (when SecretName is set), then the WEBHOOK_SIGNING_SECRET environment
// variable, then the yaml value. Verification fails closed when none is set.
type WebhookConfig struct {
	SigningSecret   string        `yaml:"signing_secret" env:"WEBHOOK_SIGNING_SECRET"`
	SecretName      string        `yaml:"secret_name" env:"WEBHOOK_SECRET_NAME"`
	SignatureHeader string        `yaml:"signature_header"`
	TimestampHeader string        `yaml:"timestamp_header"`
	ReplayWindow    time.Duration `yaml:"replay_window"`
	FutureSkew      time.Duration `yaml:"future_skew"`
}

type RateLimitConfig struct {
	RatePerInterval int           `yaml:"rate_per_interval"`
	Interval        time.Duration `yaml:"interval"`
	Burst           int           `yaml:"burst"`
	KeyPrefix       string        `yaml:"key_prefix"`
	BucketTTL       time.Duration `yaml:"bucket_ttl"`

	// Known gateway egress ranges bypass the limiter entirely.
	GatewayCIDRs []string `yaml:"gateway_cidrs"`
}

// RiskConfig holds the factor weights and decision thresholds. The defaults
// match the shipped calibration; none of them is assumed constant.
type RiskConfig struct {
	VelocityMax            int           `yaml:"velocity_max"`              // 0..3
	DeviceMismatchMax      int           `yaml:"device_mismatch_max"`       // 0..3
	GeoVarianceMax         int           `yaml:"geo_variance_max"`          // 0..2
	AmountDeviationMax     int           `yaml:"amount_deviation_max"`      // 0..2
	FlagThreshold          int           `yaml:"flag_threshold"`            // score >= this -> flag
	BlockThreshold         int           `yaml:"block_threshold"`           // score >= this -> block
	VelocityDailyLimit     int           `yaml:"velocity_daily_limit"`      // tx/day considered saturated
	AmountHistoryLookback  time.Duration `yaml:"amount_history_lookback"`
	SignalTimeout          time.Duration `yaml:"signal_timeout"`
}

type TelemetryConfig struct {
	Kafka KafkaOutcomeConfig `yaml:"kafka"`
}

type KafkaOutcomeConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	BatchSize     int           `yaml:"batch_size"`
	FlushEvery    time.Duration `yaml:"flush_every"`
	QueueCapacity int           `yaml:"queue_capacity"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLS           bool          `yaml:"tls"`
}
