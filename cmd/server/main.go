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

	"auction-service/config"
	"auction-service/internal/api"
	"auction-service/internal/broker"
	"auction-service/internal/redisclient"
	"auction-service/internal/service"
	"auction-service/internal/store"
	"auction-service/internal/util"
	"auction-service/internal/worker"
	"auction-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting auction service")

	tp, err := util.InitTracer("auction-service", cfg.Observ.JaegerEndpoint)
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

	// Redis carries the advisory price cache and lock even when it is not
	// the authoritative backend; its absence only disables those paths.
	var redisClient *redisclient.Client
	redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.Storage.Backend == "redis" {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Printf("Redis unavailable, price cache disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	auctionStore, err := selectStore(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend %q: %v", cfg.Storage.Backend, err)
	}
	log.Printf("Storage backend initialized: %s", cfg.Storage.Backend)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	// The shared topic is a capability, not a requirement: without it the
	// hub still serves this instance's viewers.
	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBroadcast)
		defer producer.Close()
		log.Println("Kafka producer initialized")
	} else {
		log.Println("Kafka disabled, running single-process broadcast only")
	}

	broadcaster := broker.NewBroadcaster(hub, producer, instanceID)

	var cache *redisclient.Client
	if cfg.Redis.PriceCacheEnabled {
		cache = redisClient
	}

	notifier := service.NewNotifier(auctionStore, broadcaster, nil)
	auctionService := service.NewAuctionService(auctionStore, cache, broadcaster, notifier)
	bidService := service.NewBidService(auctionStore, cache, broadcaster, notifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweep := worker.NewSweepWorker(auctionService, time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second)
	go func() {
		if err := sweep.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Sweep worker error: %v", err)
		}
	}()

	var relay *worker.RelayWorker
	if cfg.Kafka.Enabled {
		group := cfg.Kafka.ConsumerGroup
		if group == "" {
			// Per-instance group so every instance sees every event.
			group = fmt.Sprintf("auction-relay-%s", instanceID)
		}
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBroadcast, group)
		relay = worker.NewRelayWorker(consumer, broadcaster)
		go func() {
			if err := relay.Start(workerCtx); err != nil && err != context.Canceled {
				log.Printf("Relay worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(auctionService, bidService, hub)
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
	if relay != nil {
		relay.Stop()
	}

	log.Println("Server exited")
}

// selectStore picks the authoritative backend once at startup
func selectStore(cfg *config.Config, redisClient *redisclient.Client) (store.AuctionStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return store.NewPostgresStore(cfg.Storage.DatabaseURL)
	case "document":
		return store.NewDocumentStore(cfg.Storage.DocumentURL, cfg.Storage.DocumentToken)
	case "redis":
		return store.NewRedisStore(redisClient, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
