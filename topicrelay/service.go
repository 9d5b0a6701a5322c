package topicrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-topic-relay/internal/api"
	"github.com/tinywideclouds/go-topic-relay/internal/pipeline"
	"github.com/tinywideclouds/go-topic-relay/topicrelay/config"
)

// Sender is what both the HTTP façade and the ingestion pipeline need from
// the dispatcher.
type Sender interface {
	api.NotificationSender
	pipeline.Sender
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.SendRequest]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case no Pub/Sub
// ingestion runs.
func New(
	cfg *config.Config,
	registry api.SubscriptionRegistry,
	sender Sender,
	consumer messagepipeline.MessageConsumer,
	logger *slog.Logger,
) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Optional ingestion pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.SendRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService[pipeline.SendRequest](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.SendRequestTransformer,
			pipeline.NewProcessor(sender, logger.With("component", "SendPipeline")),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	relayAPI := api.NewRelayAPI(registry, sender, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}

	handle("GET /{$}", relayAPI.Health)
	handle("POST /subscribe", relayAPI.Subscribe)
	handle("POST /unsubscribe", relayAPI.Unsubscribe)
	handle("GET /subscriptions", relayAPI.ListSubscriptions)
	handle("POST /send", relayAPI.Send)
	handle("POST /location", relayAPI.Location)

	// CORS preflight, one per path so nothing overlaps the BaseServer probes.
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for _, path := range []string{"/subscribe", "/unsubscribe", "/subscriptions", "/send", "/location"} {
		mux.Handle("OPTIONS "+path, preflight)
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

// Start blocks until the HTTP server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Send ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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
