package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidding-core/internal/api/middleware"
	"bidding-core/internal/config"
	"bidding-core/internal/domain"
	"bidding-core/internal/infrastructure/mysql"
	"bidding-core/internal/infrastructure/redis"
	"bidding-core/internal/infrastructure/websocket"
	"bidding-core/internal/services"
	"bidding-core/pkg/logger"
	"bidding-core/pkg/utils"

	"github.com/gorilla/mux"
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

	// The feed only reads books; a memory ledger would never see the
	// bidding service's writes.
	var ledger domain.BidLedger
	if cfg.Bidding.Ledger == "mysql" {
		ledger = mysql.NewMySQLBidLedger(db)
	} else {
		ledger = redis.NewRedisBidLedger(rdb)
	}

	gateway := services.NewAuctionGateway(mysql.NewMySQLAuctionRepository(db), redis.NewRedisStateCache(rdb), log)
	feed := services.NewFeedService(ledger, log)

	// Initialize connection manager and notifiers
	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)
	feedListener := services.NewFeedListener(feed, connManager, notifier, notifier, log)
	subscriber := redis.NewRedisEventSubscriber(rdb, cfg.Events.BidChannel, cfg.Events.FinishedChannel, log)

	wsHandler := websocket.NewWebSocketHandler(gateway, feed, connManager, func(origin string) bool {
		return middleware.OriginAllowed(cfg.Feed.AllowedOrigins, origin)
	}, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.Feed.AllowedOrigins, log))
	router.HandleFunc("/ws/auctions/{auctionID}", wsHandler.HandleConnection).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	go func() {
		if err := feedListener.Start(listenerCtx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Feed listener stopped", "error", err)
			os.Exit(1)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting bid feed", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bid feed...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stopListener()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bid feed stopped")
}
