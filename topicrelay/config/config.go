package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-topic-relay/internal/dispatch"
)

type StorageBackend string

const (
	BackendFile      StorageBackend = "file"
	BackendLevelDB   StorageBackend = "leveldb"
	BackendRedis     StorageBackend = "redis"
	BackendFirestore StorageBackend = "firestore"
)

const (
	defaultListenAddr      = ":3000"
	defaultCredentialsFile = "serviceAccountKey.json"
	defaultSubsFile        = "subscriptions.json"
	defaultLevelDBPath     = "subscriptions.db"
	defaultProviderTimeout = 10 * time.Second
)

type StorageConfig struct {
	Backend             StorageBackend
	FilePath            string
	LevelDBPath         string
	FirestoreCollection string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID       string
	ListenAddr      string
	CredentialsFile string

	Storage StorageConfig
	Redis   RedisConfig

	ProviderTimeout         time.Duration
	RollbackOnProviderError bool
	Templates               map[string]dispatch.Template

	CorsConfig middleware.CorsConfig

	// Send ingestion is enabled when SubscriptionID is set.
	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether Pub/Sub send ingestion is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" {
		logger.Debug("Overriding config value", "key", "GOOGLE_APPLICATION_CREDENTIALS", "source", "env")
		cfg.CredentialsFile = val
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.Storage.Backend = StorageBackend(strings.ToLower(val))
	}
	if val := os.Getenv("SUBSCRIPTIONS_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTIONS_FILE", "source", "env")
		cfg.Storage.FilePath = val
	}
	if val := os.Getenv("LEVELDB_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "LEVELDB_PATH", "source", "env")
		cfg.Storage.LevelDBPath = val
	}
	if val := os.Getenv("FIRESTORE_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "FIRESTORE_COLLECTION", "source", "env")
		cfg.Storage.FirestoreCollection = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB %q: must be a non-negative integer", val)
		}
		cfg.Redis.DB = db
	}
	if val := os.Getenv("REDIS_KEY"); val != "" {
		cfg.Redis.Key = val
	}

	// Provider policy
	if val := os.Getenv("PROVIDER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "PROVIDER_TIMEOUT", "source", "env")
		cfg.ProviderTimeout = d
	}
	if val := os.Getenv("ROLLBACK_ON_PROVIDER_ERROR"); val != "" {
		rollback, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ROLLBACK_ON_PROVIDER_ERROR %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "ROLLBACK_ON_PROVIDER_ERROR", "source", "env")
		cfg.RollbackOnProviderError = rollback
	}

	// Pipeline Overrides
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		workers, err := strconv.Atoi(val)
		if err != nil || workers <= 0 {
			return nil, fmt.Errorf("invalid NUM_PIPELINE_WORKERS %q: must be a positive integer", val)
		}
		logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
		cfg.NumPipelineWorkers = workers
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = defaultCredentialsFile
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.FilePath == "" {
		cfg.Storage.FilePath = defaultSubsFile
	}
	if cfg.Storage.LevelDBPath == "" {
		cfg.Storage.LevelDBPath = defaultLevelDBPath
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	switch cfg.Storage.Backend {
	case BackendFile, BackendLevelDB:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis.addr is required for the redis backend (set via YAML or REDIS_ADDR env var)")
		}
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore backend (set via YAML or PROJECT_ID env var)")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.PipelineEnabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set (set via YAML or PROJECT_ID env var)")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
