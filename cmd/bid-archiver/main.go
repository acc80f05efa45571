package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidding-core/internal/config"
	"bidding-core/internal/infrastructure/leader"
	"bidding-core/internal/infrastructure/mysql"
	"bidding-core/internal/infrastructure/nats"
	"bidding-core/internal/infrastructure/redis"
	"bidding-core/internal/services"
	"bidding-core/pkg/logger"
	"bidding-core/pkg/utils"
)

func main() {
	log := logger.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level).With("instance_id", cfg.Instance.ID)

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

	// JetStream keeps events while no archiver is leader; Redis pub/sub
	// is the fallback when NATS is not configured.
	var source services.BidEventSource
	if cfg.NATS.URL != "" {
		conn, js, err := nats.Connect(ctx, cfg.NATS)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		source = nats.NewJetStreamConsumer(js, cfg.NATS.Stream, cfg.NATS.Durable, cfg.NATS.SubjectPrefix, log)
	} else {
		source = redis.NewRedisEventSubscriber(rdb, cfg.Events.BidChannel, cfg.Events.FinishedChannel, log)
	}

	election := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL)
	archiver := services.NewBidArchiver(mysql.NewMySQLBidEventRepository(db), election,
		cfg.Instance.ID, cfg.Leader.TTL/3, log)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting bid archiver")
	if err := archiver.Run(runCtx, source); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bid archiver stopped", "error", err)
		os.Exit(1)
	}
	log.Info("Bid archiver stopped")
}
