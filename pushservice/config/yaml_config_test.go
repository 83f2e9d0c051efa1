package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

const sampleYaml = `
project_id: yaml-project
listen_addr: ":9000"
topic_id: push-events
subscription_id: push-events-sub
subscription_dlq_topic_id: push-events-dlq
num_pipeline_workers: 5
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
redis:
  enabled: true
  addr: localhost:6379
  ttl: 1h
firebase:
  credentials_file: /secrets/firebase.json
dispatch:
  provider_timeout: 7s
  reconcile_concurrency: 8
devices_collection: devices
metrics_path: /metrics
cleanup_default_days: 14
`

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(sampleYaml), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "push-events", cfg.TopicID)
		assert.Equal(t, "push-events-sub", cfg.SubscriptionID)
		assert.Equal(t, "push-events-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, time.Hour, cfg.Redis.TTL)
		assert.Equal(t, "/secrets/firebase.json", cfg.Firebase.CredentialsFile)
		assert.Equal(t, 7*time.Second, cfg.Dispatch.ProviderTimeout)
		assert.Equal(t, 8, cfg.Dispatch.ReconcileConcurrency)
		assert.Equal(t, "devices", cfg.DevicesCollection)
		assert.Equal(t, "/metrics", cfg.MetricsPath)
		assert.Equal(t, 14, cfg.CleanupDefaultDays)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{ProjectID: "minimal-project"}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Zero(t, cfg.Dispatch.ProviderTimeout)
		assert.Empty(t, cfg.ListenAddr)
		assert.Nil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Failure - Bad duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "p",
			DispatchConfig: config.YamlDispatchConfig{ProviderTimeout: "ten seconds"},
		}
		_, err := config.NewConfigFromYaml(yamlCfg, logger)
		assert.ErrorContains(t, err, "dispatch.provider_timeout")
	})
}
