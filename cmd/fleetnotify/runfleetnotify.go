package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/fieldgrid/fleetnotify/internal/platform/apns"
	"github.com/fieldgrid/fleetnotify/internal/platform/fcm"
	"github.com/fieldgrid/fleetnotify/internal/platform/mqtt"
	"github.com/fieldgrid/fleetnotify/internal/platform/sim"
	"github.com/fieldgrid/fleetnotify/internal/platform/webpush"
	"github.com/fieldgrid/fleetnotify/internal/platform/wns"

	"github.com/fieldgrid/fleetnotify/internal/dispatch"
	"github.com/fieldgrid/fleetnotify/internal/orchestrator"
	"github.com/fieldgrid/fleetnotify/internal/registry"
	"github.com/fieldgrid/fleetnotify/internal/storage/cache"
	fsStore "github.com/fieldgrid/fleetnotify/internal/storage/firestore"
	"github.com/fieldgrid/fleetnotify/internal/target"
	"github.com/fieldgrid/fleetnotify/pkg/notify"

	"github.com/fieldgrid/fleetnotify/notifyservice"
	"github.com/fieldgrid/fleetnotify/notifyservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "fleetnotify")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores (Decorated) ---
	fleetRegistry := fsStore.NewDeviceRegistry(fsClient)
	firestoreOutcomes := fsStore.NewOutcomeStore(fsClient)
	var outcomes notify.OutcomeStore = firestoreOutcomes
	logger.Info("OutcomeStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		outcomes = cache.NewCachedOutcomeStore(outcomes, redisClient, 24*time.Hour)
		logger.Info("OutcomeStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Providers ---
	providers := registry.New(logger)

	registerAdapter := func(name string, a notify.Adapter, err error) {
		if err != nil {
			logger.Error("Adapter init failed", "adapter", name, "err", err)
			os.Exit(1)
		}
		if err := providers.Register(a); err != nil {
			logger.Error("Adapter registration failed", "adapter", name, "err", err)
			os.Exit(1)
		}
		logger.Info("Adapter registered", "adapter", name)
	}

	registered := 0

	if cfg.FCM.Enabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Failed to initialize Firebase App", "err", err)
			os.Exit(1)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create FCM messaging client", "err", err)
			os.Exit(1)
		}
		a, err := fcm.NewAdapter(fcmMessaging, fcm.Config{}, logger)
		registerAdapter("fcm", a, err)
		registered++
	}

	if cfg.APNS.Enabled {
		p8Key := cfg.APNS.P8KeyContent
		if p8Key == "" && cfg.APNS.P8KeyPath != "" {
			raw, err := os.ReadFile(cfg.APNS.P8KeyPath)
			if err != nil {
				logger.Error("Failed to read APNs P8 key file", "path", cfg.APNS.P8KeyPath, "err", err)
				os.Exit(1)
			}
			p8Key = string(raw)
		}
		a, err := apns.NewAdapter(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: p8Key,
		}, logger)
		registerAdapter("apns", a, err)
		registered++
	}

	if cfg.Vapid.Enabled {
		a, err := webpush.NewAdapter(webpush.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger)
		registerAdapter("webpush", a, err)
		registered++
	}

	if cfg.WNS.Enabled {
		a, err := wns.NewAdapter(wns.Config{
			PackageSID:   cfg.WNS.PackageSID,
			ClientSecret: cfg.WNS.ClientSecret,
		}, logger)
		registerAdapter("wns", a, err)
		registered++
	}

	if cfg.MQTT.Enabled {
		a, err := mqtt.NewAdapter(mqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			QoS:       cfg.MQTT.QoS,
		}, logger)
		registerAdapter("mqtt", a, err)
		registered++
	}

	if registered == 0 {
		// Local development fallback: deliveries succeed in memory.
		logger.Warn("No delivery adapters configured, registering simulation adapters for all platforms.")
		for _, p := range []notify.Platform{
			notify.PlatformFCM, notify.PlatformAPNS, notify.PlatformWebPush,
			notify.PlatformWNS, notify.PlatformMQTT,
		} {
			registerAdapter(string(p), sim.NewAdapter(string(p), p), nil)
		}
	}

	// --- Dispatch & Orchestration ---
	dispatcher := dispatch.New(providers, dispatch.Config{
		BatchSize:         cfg.Dispatch.BatchSize,
		MaxConcurrency:    cfg.Dispatch.MaxConcurrency,
		MaxRetries:        cfg.Dispatch.MaxRetries,
		BackoffBase:       cfg.Dispatch.BackoffBase,
		BackoffMultiplier: cfg.Dispatch.BackoffMultiplier,
		BackoffMax:        cfg.Dispatch.BackoffMax,
	}, logger)

	resolver := target.NewResolver(fleetRegistry)
	orch := orchestrator.New(dispatcher, resolver, fleetRegistry, outcomes, firestoreOutcomes, logger)

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := notifyservice.New(
		cfg,
		consumer,
		orch,
		providers,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
