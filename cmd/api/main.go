package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/myhometown/textline/internal/api"
	"github.com/myhometown/textline/internal/cache"
	"github.com/myhometown/textline/internal/carrier"
	cfg "github.com/myhometown/textline/internal/config"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/notification"
	"github.com/myhometown/textline/internal/sms"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/internal/workers"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	setupLogging(config.LogLevel)

	// --- Database ---
	slog.Info("Connecting to database...")
	dbpool, err := store.Connect(appCtx, config.DatabaseURL)
	if err != nil {
		slog.Error("DB connect error", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	slog.Info("Database connection established")

	logRepo := store.NewDeliveryLogRepo(dbpool)
	counterRepo := store.NewBatchCounterRepo(dbpool)
	scheduleRepo := store.NewScheduleRepo(dbpool)

	// --- Carrier ---
	gateway := carrier.NewHTTPGateway(config.Carrier)
	notifier := notification.NewLogNotifier()

	// --- Status update path (HTTP callback + optional SMPP receipts) ---
	var dedupe sms.Deduper
	if config.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(appCtx).Err(); err != nil {
			slog.Error("Redis ping error", slog.Any("error", err))
			os.Exit(1)
		}
		dedupe = cache.NewDedupeStore(redisClient, config.Redis.DedupeTTL)
		slog.Info("Callback dedupe cache enabled", slog.String("addr", config.Redis.Addr))
	} else {
		slog.Info("REDIS_ADDR not set, callback dedupe disabled")
	}
	updater := sms.NewStatusUpdater(logRepo, dedupe)

	if config.SMPP.Host != "" {
		receiver, err := carrier.NewSMPPReceiver(config.SMPP, updater.Apply)
		if err != nil {
			slog.Error("SMPP receiver setup error", slog.Any("error", err))
			os.Exit(1)
		}
		if err := receiver.Start(appCtx); err != nil {
			slog.Error("SMPP receiver start error", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := receiver.Shutdown(context.Background()); err != nil {
				slog.Warn("SMPP receiver shutdown error", slog.Any("error", err))
			}
		}()
	}

	// --- Core services ---
	monitor := sms.NewStreamMonitor(sms.StreamMonitorConfig{})
	sender := sms.NewBatchSender(gateway, logRepo, counterRepo, notifier, monitor, sms.BatchSenderConfig{
		FromNumber:     config.Carrier.FromNumber,
		CallbackURL:    config.Carrier.CallbackURL,
		MaxConcurrency: int64(config.Batch.MaxConcurrency),
		SendTimeout:    config.Batch.SendTimeout,
	})
	dispatcher := sms.NewDispatcher(gateway, logRepo, scheduleRepo, monitor, sms.DispatcherConfig{
		FromNumber:  config.Carrier.FromNumber,
		CallbackURL: config.Carrier.CallbackURL,
	})
	reconciler := sms.NewReconciler(gateway, logRepo, sms.ReconcilerConfig{
		BatchSize:  config.Worker.ReconcileBatchSize,
		BatchDelay: config.Worker.ReconcileBatchDelay,
		Window:     config.Worker.ReconcileWindow,
	})

	// --- Background workers ---
	manager := workers.NewManager(scheduleRepo, dispatcher, reconciler, monitor, config.Worker)
	manager.Start(appCtx)

	// --- HTTP server ---
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		if err := dbpool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "db": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "streams": monitor.Health()})
	})
	api.SetupRoutes(router, sender, dispatcher, monitor, updater)

	srv := &http.Server{
		Addr:         config.API.Addr,
		Handler:      router,
		ReadTimeout:  config.API.ReadTimeout,
		WriteTimeout: config.API.WriteTimeout,
		IdleTimeout:  config.API.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	go func() {
		slog.Info("Starting API server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	<-appCtx.Done()
	slog.Info("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server forced to shutdown", slog.Any("error", err))
	}
	slog.Info("API server stopped.")
}

func setupLogging(logLevelStr string) {
	logLevel := slog.LevelInfo
	if logLevelStr == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel, AddSource: logLevel <= slog.LevelDebug}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	contextHandler := logging.NewContextHandler(baseHandler)
	logger := slog.New(contextHandler)
	slog.SetDefault(logger)
}
