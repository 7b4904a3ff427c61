package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			VendorMode:         config.VendorHosted,
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("BRIDGE_PLATFORM", "IOS")
		t.Setenv("EVENT_CODEC", "cbor")
		t.Setenv("NOTIFY_SUBSCRIPTION_ID", "env-sub")
		t.Setenv("COMMAND_TIMEOUT", "5s")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("APNS_P8_KEY", "p8")
		t.Setenv("APNS_KEY_ID", "kid")
		t.Setenv("APNS_TEAM_ID", "team")
		t.Setenv("APNS_BUNDLE_ID", "com.example.app")
		t.Setenv("APNS_SANDBOX", "true")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.com , ,http://b.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, config.PlatformIOS, finalCfg.Platform)
		assert.Equal(t, "cbor", finalCfg.EventCodec)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
		assert.Equal(t, 5*time.Second, finalCfg.CommandTimeout)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)

		assert.True(t, finalCfg.APNS.Enabled())
		assert.True(t, finalCfg.APNS.Sandbox)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
		assert.True(t, finalCfg.RelayEnabled())
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		require.NoError(t, err)

		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, config.PlatformAndroid, finalCfg.Platform)
		assert.Equal(t, config.VendorStub, finalCfg.VendorMode)
		assert.Equal(t, "json", finalCfg.EventCodec)
		assert.Equal(t, 30*time.Second, finalCfg.CommandTimeout)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.False(t, finalCfg.RelayEnabled())
	})

	t.Run("Validation Failure - Hosted vendor without ProjectID", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{VendorMode: config.VendorHosted}, logger)
		assert.ErrorContains(t, err, "project_id is required")
	})

	t.Run("Validation Failure - Unknown platform", func(t *testing.T) {
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{Platform: "symbian"}, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Unknown codec", func(t *testing.T) {
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{EventCodec: "xml"}, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Partial APNs credentials", func(t *testing.T) {
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{APNS: config.APNSConfig{P8Key: "p8"}}, logger)
		assert.ErrorContains(t, err, "apns")
	})
}
