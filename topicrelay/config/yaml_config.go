package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-topic-relay/internal/dispatch"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type YamlStorageConfig struct {
	Backend             string `yaml:"backend"`
	FilePath            string `yaml:"file_path"`
	LevelDBPath         string `yaml:"leveldb_path"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlTemplate struct {
	Title       string `yaml:"title"`
	Body        string `yaml:"body"`
	ClickAction string `yaml:"click_action"`
	Action      string `yaml:"action"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID               string                  `yaml:"project_id"`
	ListenAddr              string                  `yaml:"listen_addr"`
	CredentialsFile         string                  `yaml:"credentials_file"`
	Storage                 YamlStorageConfig       `yaml:"storage"`
	RedisConfig             YamlRedisConfig         `yaml:"redis"`
	ProviderTimeout         string                  `yaml:"provider_timeout"`
	RollbackOnProviderError bool                    `yaml:"rollback_on_provider_error"`
	Templates               map[string]YamlTemplate `yaml:"templates"`
	CorsConfig              YamlCorsConfig          `yaml:"cors"`
	TopicID                 string                  `yaml:"topic_id"`
	SubscriptionID          string                  `yaml:"subscription_id"`
	SubscriptionDLQTopicID  string                  `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers      int                     `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var providerTimeout time.Duration
	if baseCfg.ProviderTimeout != "" {
		d, err := time.ParseDuration(baseCfg.ProviderTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid provider_timeout %q: %w", baseCfg.ProviderTimeout, err)
		}
		providerTimeout = d
	}

	var templates map[string]dispatch.Template
	if len(baseCfg.Templates) > 0 {
		templates = make(map[string]dispatch.Template, len(baseCfg.Templates))
		for topic, t := range baseCfg.Templates {
			templates[topic] = dispatch.Template{
				Title:       t.Title,
				Body:        t.Body,
				ClickAction: t.ClickAction,
				Action:      t.Action,
			}
		}
	}

	cfg := &Config{
		ProjectID:       baseCfg.ProjectID,
		ListenAddr:      baseCfg.ListenAddr,
		CredentialsFile: baseCfg.CredentialsFile,
		Storage: StorageConfig{
			Backend:             StorageBackend(baseCfg.Storage.Backend),
			FilePath:            baseCfg.Storage.FilePath,
			LevelDBPath:         baseCfg.Storage.LevelDBPath,
			FirestoreCollection: baseCfg.Storage.FirestoreCollection,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Key:      baseCfg.RedisConfig.Key,
		},
		ProviderTimeout:         providerTimeout,
		RollbackOnProviderError: baseCfg.RollbackOnProviderError,
		Templates:               templates,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.Storage.Backend,
	)

	return cfg, nil
}
