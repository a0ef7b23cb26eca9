package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlFCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyPath string `yaml:"p8_key_path"`
}

type YamlVapidConfig struct {
	Enabled         bool   `yaml:"enabled"`
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlWNSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PackageSID   string `yaml:"package_sid"`
	ClientSecret string `yaml:"client_secret"`
}

type YamlMQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       int    `yaml:"qos"`
}

type YamlDispatchConfig struct {
	BatchSize         int     `yaml:"batch_size"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	MaxRetries        int     `yaml:"max_retries"`
	BackoffBaseMS     int     `yaml:"backoff_base_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	BackoffMaxMS      int     `yaml:"backoff_max_ms"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	FCMConfig              YamlFCMConfig      `yaml:"fcm"`
	APNSConfig             YamlAPNSConfig     `yaml:"apns"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	WNSConfig              YamlWNSConfig      `yaml:"wns"`
	MQTTConfig             YamlMQTTConfig     `yaml:"mqtt"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		FCM: FCMConfig{
			Enabled:         baseCfg.FCMConfig.Enabled,
			CredentialsFile: baseCfg.FCMConfig.CredentialsFile,
		},
		APNS: APNSConfig{
			Enabled:   baseCfg.APNSConfig.Enabled,
			KeyID:     baseCfg.APNSConfig.KeyID,
			TeamID:    baseCfg.APNSConfig.TeamID,
			BundleID:  baseCfg.APNSConfig.BundleID,
			P8KeyPath: baseCfg.APNSConfig.P8KeyPath,
		},
		Vapid: VapidConfig{
			Enabled:         baseCfg.VapidConfig.Enabled,
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		WNS: WNSConfig{
			Enabled:      baseCfg.WNSConfig.Enabled,
			PackageSID:   baseCfg.WNSConfig.PackageSID,
			ClientSecret: baseCfg.WNSConfig.ClientSecret,
		},
		MQTT: MQTTConfig{
			Enabled:   baseCfg.MQTTConfig.Enabled,
			BrokerURL: baseCfg.MQTTConfig.BrokerURL,
			ClientID:  baseCfg.MQTTConfig.ClientID,
			Username:  baseCfg.MQTTConfig.Username,
			Password:  baseCfg.MQTTConfig.Password,
			QoS:       byte(baseCfg.MQTTConfig.QoS),
		},
		Dispatch: DispatchConfig{
			BatchSize:         baseCfg.DispatchConfig.BatchSize,
			MaxConcurrency:    baseCfg.DispatchConfig.MaxConcurrency,
			MaxRetries:        baseCfg.DispatchConfig.MaxRetries,
			BackoffBase:       time.Duration(baseCfg.DispatchConfig.BackoffBaseMS) * time.Millisecond,
			BackoffMultiplier: baseCfg.DispatchConfig.BackoffMultiplier,
			BackoffMax:        time.Duration(baseCfg.DispatchConfig.BackoffMaxMS) * time.Millisecond,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
