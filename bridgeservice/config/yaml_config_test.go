package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := `
project_id: yaml-project
listen_addr: ":9000"
platform: ios
vendor_mode: hosted
event_codec: cbor
command_timeout: 15s
vendor_timeout: 2s
relay:
  topic_id: yaml-topic
  subscription_id: yaml-subscription
  subscription_dlq_topic_id: yaml-dlq
  num_pipeline_workers: 5
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
vapid:
  public_key: yaml-public-key
  private_key: yaml-private-key
  subscriber_email: yaml@test.com
apns:
  key_id: kid
  team_id: team
  bundle_id: com.example.app
  sandbox: true
`
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(raw), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, config.PlatformIOS, cfg.Platform)
		assert.Equal(t, config.VendorHosted, cfg.VendorMode)
		assert.Equal(t, "cbor", cfg.EventCodec)
		assert.Equal(t, 15*time.Second, cfg.CommandTimeout)
		assert.Equal(t, 2*time.Second, cfg.VendorTimeout)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)
		assert.Equal(t, "com.example.app", cfg.APNS.BundleID)
		assert.False(t, cfg.APNS.Enabled())

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{ProjectID: "minimal-project"}, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Zero(t, cfg.CommandTimeout)
		assert.Empty(t, cfg.ListenAddr)
		assert.Nil(t, cfg.PubsubConsumerConfig)
		assert.False(t, cfg.Vapid.Enabled())
	})

	t.Run("Failure - Bad duration", func(t *testing.T) {
		_, err := config.NewConfigFromYaml(&config.YamlConfig{CommandTimeout: "soon"}, logger)
		assert.ErrorContains(t, err, "command_timeout")
	})
}
