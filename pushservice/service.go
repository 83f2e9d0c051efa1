package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

// Notifier is everything the service surfaces need from notifier.Service.
type Notifier interface {
	api.Notifier
	pipeline.UserSender
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.PushEvent]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the
// HTTP surface runs.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	notifier Notifier,
	registry push.DeviceRegistry,
	gatherer prometheus.Gatherer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var streamingService *messagepipeline.StreamingService[pipeline.PushEvent]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushEventTransformer,
			pipeline.NewProcessor(notifier, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	notificationAPI := api.NewNotificationAPI(notifier, logger)
	deviceAPI := api.NewDeviceAPI(registry, cfg.CleanupDefaultDays, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Notifications
	handle("POST /api/v1/notifications/send-to-user", notificationAPI.SendToUser)
	handle("POST /api/v1/notifications/send-to-token", notificationAPI.SendToToken)
	handle("POST /api/v1/notifications/send-to-multiple", notificationAPI.SendToMultiple)
	handle("POST /api/v1/notifications/send-to-topic", notificationAPI.SendToTopic)
	handle("POST /api/v1/notifications/send-to-condition", notificationAPI.SendToCondition)
	handle("POST /api/v1/notifications/subscribe-to-topic", notificationAPI.Subscribe)
	handle("POST /api/v1/notifications/unsubscribe-from-topic", notificationAPI.Unsubscribe)

	// Devices
	handle("POST /api/v1/devices/register", deviceAPI.Register)
	handle("GET /api/v1/devices", deviceAPI.ListMine)
	handle("GET /api/v1/devices/token/{token}", deviceAPI.GetByToken)
	handle("PUT /api/v1/devices/token/{token}", deviceAPI.Update)
	handle("PATCH /api/v1/devices/token/{token}/last-used", deviceAPI.TouchLastUsed)
	handle("PATCH /api/v1/devices/token/{token}/deactivate", deviceAPI.Deactivate)
	handle("DELETE /api/v1/devices/token/{token}", deviceAPI.Delete)

	// Admin
	handle("GET /api/v1/admin/users/{id}/tokens", deviceAPI.ListForUser)
	handle("DELETE /api/v1/admin/devices/cleanup", deviceAPI.Cleanup)
	handle("GET /api/v1/admin/devices/stats", deviceAPI.Stats)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if gatherer != nil {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("No subscription configured; running HTTP surface only.")
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
