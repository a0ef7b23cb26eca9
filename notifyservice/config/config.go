// Package config carries the single authoritative service configuration:
// mapped from the embedded YAML, then overridden by environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type FCMConfig struct {
	Enabled bool
	// CredentialsFile optionally points at a service account JSON; when
	// empty, application default credentials are used.
	CredentialsFile string
}

type APNSConfig struct {
	Enabled  bool
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyPath points at the .p8 signing key on disk; P8KeyContent, when
	// set (usually via env), takes precedence.
	P8KeyPath    string
	P8KeyContent string
}

type VapidConfig struct {
	Enabled         bool
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type WNSConfig struct {
	Enabled      bool
	PackageSID   string
	ClientSecret string
}

type MQTTConfig struct {
	Enabled   bool
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

type DispatchConfig struct {
	BatchSize         int
	MaxConcurrency    int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	Redis    RedisConfig
	FCM      FCMConfig
	APNS     APNSConfig
	Vapid    VapidConfig
	WNS      WNSConfig
	MQTT     MQTTConfig
	Dispatch DispatchConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
		cfg.APNS.Enabled = true
	}

	// VAPID overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
		cfg.Vapid.Enabled = true
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		cfg.Vapid.SubscriberEmail = val
	}

	// WNS overrides
	if val := os.Getenv("WNS_PACKAGE_SID"); val != "" {
		cfg.WNS.PackageSID = val
	}
	if val := os.Getenv("WNS_CLIENT_SECRET"); val != "" {
		cfg.WNS.ClientSecret = val
		cfg.WNS.Enabled = true
	}

	// MQTT overrides
	if val := os.Getenv("MQTT_BROKER_URL"); val != "" {
		cfg.MQTT.BrokerURL = val
		cfg.MQTT.Enabled = true
	}
	if val := os.Getenv("MQTT_USERNAME"); val != "" {
		cfg.MQTT.Username = val
	}
	if val := os.Getenv("MQTT_PASSWORD"); val != "" {
		cfg.MQTT.Password = val
	}

	// Final validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
