package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"square-sync-service/config"
	"square-sync-service/internal/alert"
	"square-sync-service/internal/api"
	"square-sync-service/internal/broker"
	"square-sync-service/internal/models"
	"square-sync-service/internal/redisclient"
	"square-sync-service/internal/service"
	"square-sync-service/internal/square"
	"square-sync-service/internal/store"
	"square-sync-service/internal/util"
	"square-sync-service/internal/webhook"
	"square-sync-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting square sync service")

	tp, err := util.InitTracer("square-sync-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	webhookProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhookEvents)
	defer webhookProducer.Close()
	log.Println("Kafka producers initialized")

	alerts := alert.NewPublisher(alertProducer)
	eventPublisher := broker.NewEventPublisher(webhookProducer)

	probeTimeout := time.Duration(cfg.Sync.ImageProbeTimeoutMs) * time.Millisecond
	clients := make(map[string]service.PaymentLister)
	var defaultCatalogClient *square.Client

	if cfg.Square.ProductionToken != "" {
		client := square.NewClient(models.EnvironmentProduction, cfg.Square.ProductionToken, probeTimeout, cfg.Sync.MaxPages)
		clients[models.EnvironmentProduction] = client
		if !cfg.Square.SandboxMode {
			defaultCatalogClient = client
		}
	}
	if cfg.Square.SandboxToken != "" {
		client := square.NewClient(models.EnvironmentSandbox, cfg.Square.SandboxToken, probeTimeout, cfg.Sync.MaxPages)
		clients[models.EnvironmentSandbox] = client
		if cfg.Square.SandboxMode || defaultCatalogClient == nil {
			defaultCatalogClient = client
		}
	}
	if len(clients) == 0 {
		log.Fatal("No Square API tokens configured")
	}

	defaultEnv := models.EnvironmentProduction
	if cfg.Square.SandboxMode {
		defaultEnv = models.EnvironmentSandbox
	}
	if _, ok := clients[defaultEnv]; !ok {
		for env := range clients {
			defaultEnv = env
		}
	}

	tuning := service.Tuning{
		LookbackMinutes: cfg.Sync.LookbackMinutes,
		BatchSize:       cfg.Sync.BatchSize,
		MaxPages:        cfg.Sync.MaxPages,
		BatchDelay:      time.Duration(cfg.Sync.BatchDelayMs) * time.Millisecond,
	}
	paymentSync := service.NewPaymentSyncService(db, clients, alerts, eventPublisher, defaultEnv, tuning)
	catalogSync := service.NewCatalogSyncService(db, defaultCatalogClient, redisClient, alerts, tuning)

	validator := webhook.NewValidator(webhook.Secrets{
		Sandbox:    cfg.Square.WebhookSecretSandbox,
		Production: cfg.Square.WebhookSecretProduction,
		Shared:     cfg.Square.WebhookSecret,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncRequests, cfg.Kafka.ConsumerGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, paymentSync, catalogSync)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(validator, redisClient, eventPublisher, paymentSync, catalogSync, db, cfg.Sync.MaxWebhookBodyBytes)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	syncWorker.Stop()

	log.Println("Server exited")
}
