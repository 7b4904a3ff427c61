// Package bridgeservice assembles the messaging bridge: the command
// dispatcher and its owner goroutine, the HTTP command and host-lifecycle
// routes, the websocket event stream and, for the hosted vendor, the inbound
// notification relay.
package bridgeservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-messaging-bridge/internal/api"
	"github.com/tinywideclouds/go-messaging-bridge/internal/codec"
	"github.com/tinywideclouds/go-messaging-bridge/internal/dispatcher"
	"github.com/tinywideclouds/go-messaging-bridge/internal/events"
	"github.com/tinywideclouds/go-messaging-bridge/internal/host"
	"github.com/tinywideclouds/go-messaging-bridge/internal/looper"
	"github.com/tinywideclouds/go-messaging-bridge/internal/relay"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

// Relay holds what the inbound notification pipeline needs. A nil Consumer
// disables it.
type Relay struct {
	Consumer    messagepipeline.MessageConsumer
	Forwarders  relay.Forwarders
	TokenStore  dispatch.TokenStore
	UnreadStore dispatch.UnreadStore
	Receiver    relay.Receiver
}

type Wrapper struct {
	*microservice.BaseServer
	dispatcher      *dispatcher.Dispatcher
	emitter         *events.Emitter
	host            *host.Provider
	loop            *looper.Looper
	pipelineService *messagepipeline.StreamingService[relay.VendorNotification]
	logger          *slog.Logger
}

// New assembles the service. authMiddleware may be nil.
func New(
	cfg *config.Config,
	vendor bridge.Vendor,
	hostProvider *host.Provider,
	relayDeps Relay,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	eventCodec, err := codec.ByName(cfg.EventCodec)
	if err != nil {
		return nil, fmt.Errorf("invalid event codec: %w", err)
	}
	if authMiddleware == nil {
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Bridge core
	loop := looper.New(logger)
	emitter := events.NewEmitter(cfg.Platform, logger)
	opts := dispatcher.OptionsForPlatform(cfg.Platform)
	opts.VendorTimeout = cfg.VendorTimeout
	d := dispatcher.New(vendor, hostProvider, emitter, loop, opts, logger)

	w := &Wrapper{
		BaseServer: baseServer,
		dispatcher: d,
		emitter:    emitter,
		host:       hostProvider,
		loop:       loop,
		logger:     logger,
	}

	// 3. Relay pipeline (optional)
	if relayDeps.Consumer != nil {
		processor := relay.NewProcessor(relayDeps.Forwarders, relayDeps.TokenStore, relayDeps.UnreadStore, relayDeps.Receiver, logger)
		w.pipelineService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			relayDeps.Consumer,
			relay.VendorNotificationTransformer,
			processor,
			logger,
		)
		if err != nil {
			loop.Stop()
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API
	commandAPI := api.NewCommandAPI(d, cfg.CommandTimeout, logger)
	hostAPI := api.NewHostAPI(hostProvider, logger)
	eventStream := api.NewEventStream(d, eventCodec, cfg.CorsConfig.AllowedOrigins, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/commands/{method}", commandAPI.HandleCommand)
	handle("POST /api/v1/host/activity", hostAPI.AttachActivity)
	handle("DELETE /api/v1/host/activity", hostAPI.DetachActivity)

	// The upgrader checks origins itself and needs the raw ResponseWriter.
	mux.Handle("GET /api/v1/events", authMiddleware(http.HandlerFunc(eventStream.HandleEvents)))

	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return w, nil
}

// Dispatcher exposes the command entry point for in-process hosts.
func (w *Wrapper) Dispatcher() *dispatcher.Dispatcher {
	return w.dispatcher
}

// Host exposes the presentation context provider.
func (w *Wrapper) Host() *host.Provider {
	return w.host
}

// Start attaches the application context, starts the relay when configured
// and then serves HTTP. It blocks until the server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	w.host.AttachApplication()

	if w.pipelineService != nil {
		w.logger.Info("Relay pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start relay pipeline: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Detach unbinds the event sink and drops the application context. Commands
// issued afterwards fail with no_context until the host reattaches.
func (w *Wrapper) Detach() {
	w.emitter.Unbind()
	w.host.DetachApplication()
	w.logger.Info("Bridge detached from host")
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Relay pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	w.Detach()
	w.loop.Stop()
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
