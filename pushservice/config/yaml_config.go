package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlFirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlDispatchConfig struct {
	ProviderTimeout      string `yaml:"provider_timeout"`
	ReconcileConcurrency int    `yaml:"reconcile_concurrency"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	FirebaseConfig         YamlFirebaseConfig `yaml:"firebase"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	DevicesCollection      string             `yaml:"devices_collection"`
	MetricsPath            string             `yaml:"metrics_path"`
	CleanupDefaultDays     int                `yaml:"cleanup_default_days"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Durations are Go duration strings ("10s", "24h").
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	providerTimeout, err := parseDuration("dispatch.provider_timeout", baseCfg.DispatchConfig.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      cacheTTL,
		},
		Firebase: FirebaseConfig{
			CredentialsFile: baseCfg.FirebaseConfig.CredentialsFile,
		},
		Dispatch: DispatchConfig{
			ProviderTimeout:      providerTimeout,
			ReconcileConcurrency: baseCfg.DispatchConfig.ReconcileConcurrency,
		},
		DevicesCollection:      baseCfg.DevicesCollection,
		MetricsPath:            baseCfg.MetricsPath,
		CleanupDefaultDays:     baseCfg.CleanupDefaultDays,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
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

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
