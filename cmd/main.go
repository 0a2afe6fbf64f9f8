package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/clearhaul/realtime/internal/api"
	"github.com/clearhaul/realtime/internal/auth"
	"github.com/clearhaul/realtime/internal/config"
	"github.com/clearhaul/realtime/internal/jobs"
	"github.com/clearhaul/realtime/internal/messages"
	"github.com/clearhaul/realtime/internal/notify"
	"github.com/clearhaul/realtime/internal/presence"
	"github.com/clearhaul/realtime/internal/realtime"
	"github.com/clearhaul/realtime/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.App.Env == "development")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("jwt secret is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	cancel()
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	msgStore := messages.NewMongoStore(
		mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
	if err := msgStore.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("mongo index", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
		DB:       cfg.Redis.DB,
	})
	presenceStore := presence.NewStore(redisClient, cfg.Redis.Prefix)

	notifyProducer := notify.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
	notifyPool := notify.NewPool(notifyProducer, 4, 1024, logger)

	var stream realtime.StreamPublisher
	var streamProducer *notify.Producer
	if cfg.Kafka.EventTopic != "" {
		streamProducer = notify.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		stream = streamProducer
	}

	jobsClient := jobs.NewClient(cfg.Jobs.BaseURL, cfg.JobsTimeout, logger)
	verifier := auth.NewJWTVerifier(cfg.JWT.Secret)

	rooms := realtime.NewRoomIndex()
	registry := realtime.NewRegistry(rooms)
	dispatcher := realtime.NewDispatcher(registry, rooms, logger)
	router := realtime.NewRouter(realtime.RouterDeps{
		Registry:     registry,
		Rooms:        rooms,
		Gate:         realtime.NewGate(jobsClient),
		Dispatch:     dispatcher,
		Verifier:     verifier,
		Jobs:         jobsClient,
		Messages:     msgStore,
		Notifier:     notifyPool,
		Presence:     presenceStore,
		Stream:       stream,
		Log:          logger,
		HistoryLimit: cfg.WS.HistoryLimit,
	})

	clientOpts := realtime.ClientOptions{
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		ReadDeadline:  cfg.ReadDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageSizeBytes,
		EventsPerSec:  cfg.WS.EventsPerSecond,
	}
	app := api.NewServer(router, dispatcher, clientOpts, logger)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Info("realtime coordinator listening", zap.String("addr", addr))
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		logger.Error("server error", zap.Error(err))
	case s := <-sig:
		logger.Info("signal received", zap.String("signal", s.String()))
	}

	if err := app.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	notifyPool.Close()
	_ = notifyProducer.Close()
	if streamProducer != nil {
		_ = streamProducer.Close()
	}
	_ = redisClient.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = mongoClient.Disconnect(shutdownCtx)
	logger.Info("shutdown complete")
}
