package loader

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	cfgpkg "github.com/SettleWire/payment-webhook-service/internal/config"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
)

// LoadConfig loads YAML config from file into cfgpkg.Config and applies
// defaults for everything the file leaves unset.
func LoadConfig(path string) (*cfgpkg.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg cfgpkg.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// ResolveWebhookSecret resolves the signing secret: Secrets Manager when a
// secret name is configured, then env, then the yaml value. An empty result
// is not an error here; the verifier fails closed on it per delivery.
func ResolveWebhookSecret(ctx context.Context, cfg *cfgpkg.Config) string {
	if cfg.Webhook.SecretName != "" {
		sl, err := cfgpkg.NewAWSSecretsLoader(ctx)
		if err != nil {
			logger.Errorf("secrets manager unavailable, falling back to env/yaml: %v", err)
		} else if secret, err := sl.GetSecret(ctx, cfg.Webhook.SecretName); err == nil {
			return secret
		}
	}
	if secret := os.Getenv("WEBHOOK_SIGNING_SECRET"); secret != "" {
		return secret
	}
	return cfg.Webhook.SigningSecret
}

func applyDefaults(cfg *cfgpkg.Config) {
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	cfg.Server.ReadTimeout = orDefaultDur(cfg.Server.ReadTimeout, 5*time.Second)
	cfg.Server.WriteTimeout = orDefaultDur(cfg.Server.WriteTimeout, 10*time.Second)
	cfg.Server.ShutdownTimeout = orDefaultDur(cfg.Server.ShutdownTimeout, 10*time.Second)

	cfg.Webhook.SignatureHeader = nonEmpty(cfg.Webhook.SignatureHeader, "X-Gateway-Signature")
	cfg.Webhook.TimestampHeader = nonEmpty(cfg.Webhook.TimestampHeader, "X-Gateway-Timestamp")
	cfg.Webhook.ReplayWindow = orDefaultDur(cfg.Webhook.ReplayWindow, 5*time.Minute)
	cfg.Webhook.FutureSkew = orDefaultDur(cfg.Webhook.FutureSkew, 1*time.Minute)

	cfg.RateLimit.RatePerInterval = orDefaultInt(cfg.RateLimit.RatePerInterval, 100)
	cfg.RateLimit.Interval = orDefaultDur(cfg.RateLimit.Interval, 15*time.Minute)
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RatePerInterval
	}
	cfg.RateLimit.KeyPrefix = nonEmpty(cfg.RateLimit.KeyPrefix, "rl:")
	cfg.RateLimit.BucketTTL = orDefaultDur(cfg.RateLimit.BucketTTL, 24*time.Hour)

	cfg.Risk.VelocityMax = orDefaultInt(cfg.Risk.VelocityMax, 3)
	cfg.Risk.DeviceMismatchMax = orDefaultInt(cfg.Risk.DeviceMismatchMax, 3)
	cfg.Risk.GeoVarianceMax = orDefaultInt(cfg.Risk.GeoVarianceMax, 2)
	cfg.Risk.AmountDeviationMax = orDefaultInt(cfg.Risk.AmountDeviationMax, 2)
	cfg.Risk.FlagThreshold = orDefaultInt(cfg.Risk.FlagThreshold, 5)
	cfg.Risk.BlockThreshold = orDefaultInt(cfg.Risk.BlockThreshold, 7)
	cfg.Risk.VelocityDailyLimit = orDefaultInt(cfg.Risk.VelocityDailyLimit, 10)
	cfg.Risk.AmountHistoryLookback = orDefaultDur(cfg.Risk.AmountHistoryLookback, 90*24*time.Hour)
	cfg.Risk.SignalTimeout = orDefaultDur(cfg.Risk.SignalTimeout, 2*time.Second)

	cfg.Telemetry.Kafka.Topic = nonEmpty(cfg.Telemetry.Kafka.Topic, "webhook-outcomes")
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
