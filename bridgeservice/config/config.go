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
)

const (
	VendorStub   = "stub"
	VendorHosted = "hosted"

	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Enabled reports whether both VAPID keys are present.
func (v VapidConfig) Enabled() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	P8Key    string
	Sandbox  bool
}

// Enabled reports whether a token-auth key is configured.
func (a APNSConfig) Enabled() bool {
	return a.P8Key != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	// Platform selects the android or ios contract rules.
	Platform   string
	VendorMode string
	EventCodec string

	CommandTimeout time.Duration
	VendorTimeout  time.Duration

	// IdentityServiceURL, when set, puts the command routes behind JWKS auth.
	IdentityServiceURL string

	// The relay runs only when SubscriptionID is set and the vendor is hosted.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// RelayEnabled reports whether inbound vendor notifications are consumed.
func (c *Config) RelayEnabled() bool {
	return c.VendorMode == VendorHosted && c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("BRIDGE_PLATFORM", func(v string) { cfg.Platform = strings.ToLower(v) })
	override("VENDOR_MODE", func(v string) { cfg.VendorMode = strings.ToLower(v) })
	override("EVENT_CODEC", func(v string) { cfg.EventCodec = strings.ToLower(v) })
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityServiceURL = v })
	override("NOTIFY_TOPIC_ID", func(v string) { cfg.TopicID = v })
	override("NOTIFY_SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("NOTIFY_SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})
	override("COMMAND_TIMEOUT", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CommandTimeout = d
		}
	})
	override("VENDOR_TIMEOUT", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.VendorTimeout = d
		}
	})

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// APNs Overrides
	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_KEY", func(v string) { cfg.APNS.P8Key = v })
	override("APNS_SANDBOX", func(v string) {
		sandbox, _ := strconv.ParseBool(v)
		cfg.APNS.Sandbox = sandbox
	})

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Platform == "" {
		cfg.Platform = PlatformAndroid
	}
	if cfg.Platform != PlatformAndroid && cfg.Platform != PlatformIOS {
		return nil, fmt.Errorf("platform must be %q or %q, got %q", PlatformAndroid, PlatformIOS, cfg.Platform)
	}
	if cfg.VendorMode == "" {
		cfg.VendorMode = VendorStub
	}
	if cfg.VendorMode != VendorStub && cfg.VendorMode != VendorHosted {
		return nil, fmt.Errorf("vendor_mode must be %q or %q, got %q", VendorStub, VendorHosted, cfg.VendorMode)
	}
	if cfg.EventCodec == "" {
		cfg.EventCodec = "json"
	}
	if cfg.EventCodec != "json" && cfg.EventCodec != "cbor" {
		return nil, fmt.Errorf("event_codec must be json or cbor, got %q", cfg.EventCodec)
	}
	if cfg.VendorMode == VendorHosted && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for the hosted vendor (set via YAML or PROJECT_ID env var)")
	}
	if cfg.APNS.Enabled() && (cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "") {
		return nil, fmt.Errorf("apns key_id, team_id and bundle_id are required when a p8 key is set")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
