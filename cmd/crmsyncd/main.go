// crmsyncd is the CRM inbox server: REST API over the conversation and
// message stores, the websocket push broker, the attachment upload
// endpoint, and an optional Kafka bridge to channel providers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmsync/internal/app/inboxsvc"
	"crmsync/internal/infra/broker/kafka"
	"crmsync/internal/infra/config"
	mongodb "crmsync/internal/infra/db/mongo"
	ginserver "crmsync/internal/infra/http/gin"
	"crmsync/internal/infra/hub"
	"crmsync/internal/infra/inbox"
	"crmsync/internal/infra/obs"
	"crmsync/internal/infra/storage/memory"
	"crmsync/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, err := buildApplication(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	if app.consumer != nil {
		go func() {
			if err := app.consumer.Run(ctx, []string{cfg.KafkaTopic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
		logger.Info("kafka ingest running", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers ginserver.Handlers
	broker   *hub.Hub
	consumer *kafka.Consumer
	producer *kafka.Producer
	mongo    *mongodb.Client
	ready    func() error
}

func buildApplication(cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{broker: hub.New(logger)}
	app.ready = func() error { return nil }

	var (
		convs  inboxsvc.ConversationRepository
		msgs   inboxsvc.MessageRepository
		dedupe inbox.Dedupe
	)
	switch cfg.StorageMode {
	case "mongo":
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		app.mongo = client
		app.ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
		convs = mongodb.NewConversationRepository(client.DB)
		msgs = mongodb.NewMessageRepository(client.DB)
		dedupe = inbox.NewStore(client.DB, cfg.KafkaGroupID)
	default:
		convs = memory.NewConversationRepository()
		msgs = memory.NewMessageRepository()
		dedupe = inbox.NewMemoryDedupe()
	}

	svc := inboxsvc.New(convs, msgs, app.broker, logger)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		app.producer = producer
		svc.WithGateway(kafka.NewGateway(producer, cfg.KafkaOutTopic))

		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, kafka.NewIngestBridge(svc, dedupe, logger))
		if err != nil {
			return nil, err
		}
		app.consumer = consumer
	}

	var uploader s3.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Warn("object storage unavailable, uploads disabled", "error", err)
		} else {
			uploader = client
		}
	}

	app.handlers = ginserver.Handlers{
		Chat:   ginserver.ChatHandler{Service: svc},
		Upload: ginserver.UploadHandler{Uploader: uploader},
		Broker: app.broker,
	}
	return app, nil
}

func (a *application) close() {
	a.broker.Close()
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			slog.Error("kafka consumer close failed", "error", err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			slog.Error("kafka producer close failed", "error", err)
		}
	}
	if a.mongo != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Close(closeCtx); err != nil {
			slog.Error("mongo disconnect failed", "error", err)
		}
	}
}
