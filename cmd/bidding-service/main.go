package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidding-core/internal/api/handlers"
	"bidding-core/internal/config"
	"bidding-core/internal/domain"
	"bidding-core/internal/infrastructure/memory"
	"bidding-core/internal/infrastructure/mysql"
	"bidding-core/internal/infrastructure/nats"
	"bidding-core/internal/infrastructure/redis"
	"bidding-core/internal/services"
	"bidding-core/pkg/logger"
	"bidding-core/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := mysql.InitSchema(ctx, db); err != nil {
		log.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// Storage
	ledger := newLedger(cfg.Bidding.Ledger, rdb, db)
	var (
		idempotencyStore domain.IdempotencyStore
		expiring         []services.ExpiringStore
	)
	if cfg.Bidding.IdempotencyStore == "memory" {
		store := memory.NewIdempotencyStore()
		idempotencyStore = store
		expiring = append(expiring, store)
	} else {
		idempotencyStore = redis.NewRedisIdempotencyStore(rdb)
	}

	// Event sinks
	sinks := []domain.EventPublisher{redis.NewEventPublisher(rdb, cfg.Events.BidChannel)}
	if cfg.NATS.URL != "" {
		conn, js, err := nats.Connect(ctx, cfg.NATS)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		sinks = append(sinks, nats.NewJetStreamPublisher(js, cfg.NATS.SubjectPrefix, cfg.NATS.PublishTimeout))
		log.Info("Publishing bid events to JetStream", "stream", cfg.NATS.Stream)
	}
	publisher := services.NewFanoutPublisher(log, sinks...)

	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	gateway := services.NewAuctionGateway(auctionRepo, stateCache, log)
	guard := services.NewIdempotencyGuard(idempotencyStore, cfg.Bidding.IdempotencyTTL, log)

	bidService := services.NewBidService(ledger, gateway, guard, publisher, services.BidServiceSettings{
		MaxCommitAttempts: cfg.Bidding.MaxCommitAttempts,
		RetryBaseDelay:    cfg.Bidding.RetryBaseDelay,
		RetryMaxDelay:     cfg.Bidding.RetryMaxDelay,
		RetractWindow:     cfg.Bidding.RetractWindow,
	}, log)

	scheduler := services.NewMaintenanceScheduler(cfg.Bidding.MaintenanceSpec, log, expiring...)
	subscriber := redis.NewRedisEventSubscriber(rdb, cfg.Events.BidChannel, cfg.Events.FinishedChannel, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Feed.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			handlers.HeaderIdempotencyKey,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Info("Request handled",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"latency_ms", time.Since(start).Milliseconds())
			return nil
		}
	})

	handlers.NewBidHandler(bidService, mysql.NewMySQLBidEventRepository(db), log).Register(e)

	// Start background services
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if err := scheduler.Start(bgCtx); err != nil {
		log.Error("Failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		err := subscriber.SubscribeToAuctionFinished(bgCtx, bidService.FinishAuction)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Auction finished listener stopped", "error", err)
		}
	}()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting bidding server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	stopBackground()
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}

	log.Info("Bidding service stopped")
}

func newLedger(driver string, rdb *redisClient.Client, db *sql.DB) domain.BidLedger {
	switch driver {
	case "memory":
		return memory.NewBidLedger()
	case "mysql":
		return mysql.NewMySQLBidLedger(db)
	default:
		return redis.NewRedisBidLedger(rdb)
	}
}
