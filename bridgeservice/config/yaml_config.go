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
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	P8Key    string `yaml:"p8_key"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlRelayConfig struct {
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID          string          `yaml:"project_id"`
	ListenAddr         string          `yaml:"listen_addr"`
	Platform           string          `yaml:"platform"`
	VendorMode         string          `yaml:"vendor_mode"`
	EventCodec         string          `yaml:"event_codec"`
	CommandTimeout     string          `yaml:"command_timeout"`
	VendorTimeout      string          `yaml:"vendor_timeout"`
	IdentityServiceURL string          `yaml:"identity_service_url"`
	Relay              YamlRelayConfig `yaml:"relay"`
	CorsConfig         YamlCorsConfig  `yaml:"cors"`
	RedisConfig        YamlRedisConfig `yaml:"redis"`
	VapidConfig        YamlVapidConfig `yaml:"vapid"`
	APNSConfig         YamlAPNSConfig  `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	commandTimeout, err := parseDuration(baseCfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid command_timeout: %w", err)
	}
	vendorTimeout, err := parseDuration(baseCfg.VendorTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor_timeout: %w", err)
	}

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		Platform:               baseCfg.Platform,
		VendorMode:             baseCfg.VendorMode,
		EventCodec:             baseCfg.EventCodec,
		CommandTimeout:         commandTimeout,
		VendorTimeout:          vendorTimeout,
		IdentityServiceURL:     baseCfg.IdentityServiceURL,
		TopicID:                baseCfg.Relay.TopicID,
		SubscriptionID:         baseCfg.Relay.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.Relay.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.Relay.NumPipelineWorkers,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			P8Key:    baseCfg.APNSConfig.P8Key,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"platform", cfg.Platform,
		"vendor_mode", cfg.VendorMode,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
