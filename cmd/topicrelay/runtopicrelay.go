package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/natefinch/lumberjack"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-topic-relay/internal/app"
	"github.com/tinywideclouds/go-topic-relay/internal/dispatch"
	"github.com/tinywideclouds/go-topic-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-topic-relay/internal/registry"
	"github.com/tinywideclouds/go-topic-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-topic-relay/internal/storage/file"
	fsStore "github.com/tinywideclouds/go-topic-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-topic-relay/internal/storage/leveldb"
	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
	"github.com/tinywideclouds/go-topic-relay/topicrelay"
	"github.com/tinywideclouds/go-topic-relay/topicrelay/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	logger := newLogger()
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
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Provider (FCM) ---
	var fbOpts []option.ClientOption
	if _, err := os.Stat(cfg.CredentialsFile); err == nil {
		fbOpts = append(fbOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else {
		logger.Warn("Credentials file not found, falling back to application default credentials", "path", cfg.CredentialsFile)
	}
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	fbApp, err := firebase.NewApp(ctx, fbConfig, fbOpts...)
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	provider := fcm.NewProvider(fcmMessaging, logger)

	// --- Subscription Store ---
	var closers []io.Closer
	store, storeClosers, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Subscription store failed", "err", err)
		os.Exit(1)
	}
	closers = append(closers, store)
	closers = append(closers, storeClosers...)

	reg := registry.New(ctx, store, provider, registry.Config{
		ProviderTimeout:         cfg.ProviderTimeout,
		RollbackOnProviderError: cfg.RollbackOnProviderError,
	}, logger)

	dispatcher := dispatch.NewDispatcher(provider, cfg.Templates, cfg.ProviderTimeout, logger)

	// --- Optional Send Ingestion ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		closers = append(closers, psClient)

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := topicrelay.New(cfg, reg, dispatcher, consumer, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	app.Run(ctx, logger, service, closers...)
}

func newLogger() *slog.Logger {
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

	var out io.Writer = os.Stdout
	if path := os.Getenv("LOG_FILE"); path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 3,
			LocalTime:  true,
			Compress:   true,
		})
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-topic-relay")
}

// newStore builds the configured subscription store. Extra closers are the
// clients the store borrows but does not own.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Store, []io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.BackendLevelDB:
		store, err := leveldb.NewStore(cfg.Storage.LevelDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Subscription store initialized", "type", "leveldb", "path", cfg.Storage.LevelDBPath)
		return store, nil, nil

	case config.BackendRedis:
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Subscription store initialized", "type", "redis", "addr", cfg.Redis.Addr)
		return cache.NewStore(redisClient, cfg.Redis.Key, logger), nil, nil

	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("Subscription store initialized", "type", "firestore", "collection", cfg.Storage.FirestoreCollection)
		return fsStore.NewFirestoreStore(fsClient, cfg.Storage.FirestoreCollection, logger), []io.Closer{fsClient}, nil

	default:
		logger.Info("Subscription store initialized", "type", "file", "path", cfg.Storage.FilePath)
		return file.NewStore(cfg.Storage.FilePath, logger), nil, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")

	if cfg.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:               sub,
			Topic:              convertPubsub(cfg.ProjectID, cfg.TopicID, "topics"),
			AckDeadlineSeconds: 10,
		}
		if cfg.SubscriptionDLQTopicID != "" {
			subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
				DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
				MaxDeliveryAttempts: 5,
			}
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
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(sub), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
