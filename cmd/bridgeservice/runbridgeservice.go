package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"
	"github.com/spf13/pflag"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice"
	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-messaging-bridge/internal/adapter/hosted"
	"github.com/tinywideclouds/go-messaging-bridge/internal/adapter/stub"
	"github.com/tinywideclouds/go-messaging-bridge/internal/host"
	"github.com/tinywideclouds/go-messaging-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-messaging-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-messaging-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-messaging-bridge/internal/relay"
	"github.com/tinywideclouds/go-messaging-bridge/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-messaging-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

const tokenCacheTTL = 24 * time.Hour

func main() {
	var configPath, logLevelFlag string
	flagSet := pflag.NewFlagSet("bridgeservice", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: embedded local.yaml)")
	flagSet.StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if logLevelFlag == "" {
		logLevelFlag = os.Getenv("LOG_LEVEL")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(logLevelFlag),
	})).With("service", "go-messaging-bridge")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	// --- Config Loading ---
	raw := configFile
	if configPath != "" {
		var err error
		if raw, err = os.ReadFile(configPath); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return err
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Vendor ---
	var vendor bridge.Vendor
	var relayDeps bridgeservice.Relay

	switch cfg.VendorMode {
	case config.VendorHosted:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client failed: %w", err)
		}
		defer fsClient.Close()

		// --- Stores (Decorated) ---
		var tokenStore dispatch.TokenStore = fsStore.NewTokenStore(fsClient)
		var unreadStore dispatch.UnreadStore = fsStore.NewUnreadStore(fsClient)
		logger.Info("Stores initialized", "type", "firestore")

		if cfg.Redis.Enabled {
			logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
			redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer redisClient.Close()
			tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, tokenCacheTTL)
			unreadStore = cache.NewUnreadStore(redisClient)
			logger.Info("Stores upgraded", "tokens", "redis_cached_firestore", "unread", "redis")
		}

		adapter := hosted.New(cfg.Platform, fsStore.NewAccountStore(fsClient), tokenStore, unreadStore, logger)
		// Runs before the store clients close.
		defer adapter.Wait()
		vendor = adapter

		if cfg.RelayEnabled() {
			psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
			if err != nil {
				return fmt.Errorf("pubsub client failed: %w", err)
			}
			defer psClient.Close()

			consumer, err := bridgeservice.NewRelayConsumer(ctx, cfg, psClient, logger)
			if err != nil {
				return fmt.Errorf("relay consumer failed: %w", err)
			}
			forwarders, err := newForwarders(ctx, cfg, logger)
			if err != nil {
				return err
			}
			relayDeps = bridgeservice.Relay{
				Consumer:    consumer,
				Forwarders:  forwarders,
				TokenStore:  tokenStore,
				UnreadStore: unreadStore,
				Receiver:    adapter,
			}
		}
	default:
		logger.Info("Using stub vendor")
		vendor = stub.New(logger)
	}

	// --- Auth ---
	var authMiddleware func(http.Handler) http.Handler
	if cfg.IdentityServiceURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
		if err != nil {
			return fmt.Errorf("jwt discovery failed: %w", err)
		}
		if authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger); err != nil {
			return fmt.Errorf("auth middleware failed: %w", err)
		}
	} else {
		logger.Warn("IDENTITY_SERVICE_URL not set; command routes are unauthenticated")
	}

	// --- Service ---
	service, err := bridgeservice.New(cfg, vendor, host.NewProvider(), relayDeps, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "platform", cfg.Platform, "vendor", cfg.VendorMode, "addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newForwarders enables each push platform that has credentials.
func newForwarders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Forwarders, error) {
	var f relay.Forwarders

	// A. Android (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return f, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return f, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	f.FCM = fcm.NewDispatcher(fcmMessaging, logger)

	// B. iOS (APNs)
	if cfg.APNS.Enabled() {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return f, fmt.Errorf("failed to create apns dispatcher: %w", err)
		}
		f.APNS = apnsDispatcher
		logger.Info("APNs Dispatcher enabled", "bundle_id", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	} else {
		logger.Warn("APNs key missing in configuration. iOS devices will not be notified.")
	}

	// C. Web (VAPID)
	if cfg.Vapid.Enabled() {
		f.Web = web.NewDispatcher(cfg.Vapid, logger)
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	} else {
		logger.Warn("VAPID keys missing in configuration. Web Push is disabled.")
	}

	return f, nil
}
