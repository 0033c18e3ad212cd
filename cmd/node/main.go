package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/draw-your-dream/logflare/internal/adapter/api"
	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/adapter/repository/postgres"
	redisrepo "github.com/draw-your-dream/logflare/internal/adapter/repository/redis"
	"github.com/draw-your-dream/logflare/internal/adapter/repository/wal"
	"github.com/draw-your-dream/logflare/internal/backend"
	"github.com/draw-your-dream/logflare/internal/cluster"
	"github.com/draw-your-dream/logflare/internal/ingestion"
	"github.com/draw-your-dream/logflare/internal/pkg/config"
	"github.com/draw-your-dream/logflare/internal/pkg/logger"
	"github.com/draw-your-dream/logflare/internal/registry"
	"github.com/draw-your-dream/logflare/internal/supervisor"
)

// sourceCacheTTL matches the teacher's APIKeyRepository cache TTL,
// reused here for the postgres-backed SourceStore cache.
const sourceCacheTTL = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.New()
	reg := registry.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("could not connect to redis, WAL failover will carry buffer writes until it recovers", "error", err)
	}

	walRepo, err := wal.NewWALRepository(cfg.WALDir, cfg.WALSegmentSize, cfg.WALMaxDiskSize, log)
	if err != nil {
		log.Error("failed to initialize WAL repository", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	bufferRepo := redisrepo.NewBufferRepository(redisClient, cfg.BufferMaxLen)
	publisher := redisrepo.NewPublisher(redisClient)
	shardSubscriber := redisrepo.NewShardSubscriber(redisClient)
	logCountSubscriber := redisrepo.NewLogCountSubscriber(redisClient)
	adminRepo := redisrepo.NewAdminRepository(redisClient)

	sourceStore := postgres.NewSourceStore(db, log, sourceCacheTTL)
	sinkRepo := postgres.NewSinkRepository(db)

	var bqInserts atomic.Int64

	backendTable := backend.NewTable()
	backendTable.Add("webhook", backend.NewWebhookAdaptor(log, m))
	backendTable.Add("storage", backend.NewStorageAdaptor(log, m, &bqInserts))

	super := supervisor.New(supervisor.Deps{
		Registry:    reg,
		BufferRepo:  bufferRepo,
		WAL:         walRepo,
		Publisher:   publisher,
		Subscriber:  shardSubscriber,
		SourceStore: sourceStore,
		Sink:        sinkRepo,
		Backends:    backendTable,
		Lock:        redisrepo.NewLock(redisClient),
		BQInserts:   &bqInserts,
		NodeID:      cfg.NodeID,
		PoolSize:    cfg.PoolSize,
		Logger:      log,
		Metrics:     m,
	})

	pipeline := ingestion.NewPipeline(super, log, m)

	clusterClient := cluster.NewClient()
	aggregator := cluster.NewAggregator(super, clusterClient, cfg.ClusterPeers, log, m)

	publicRouter := api.NewRouter(cfg, log, sourceStore, pipeline, super, super, aggregator, logCountSubscriber)
	publicServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      publicRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	clusterRouter := api.NewClusterRouter(log, super, adminRepo)
	clusterServer := &http.Server{
		Addr:    cfg.ClusterServerAddr,
		Handler: clusterRouter,
	}

	go func() {
		log.Info("starting ingest/tail server", "addr", publicServer.Addr)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ingest/tail server failed", "error", err)
			stop()
		}
	}()

	go func() {
		log.Info("starting cluster/admin/metrics server", "addr", clusterServer.Addr)
		if err := clusterServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("cluster/admin/metrics server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publicServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ingest/tail server shutdown failed", "error", err)
	}
	if err := clusterServer.Shutdown(shutdownCtx); err != nil {
		log.Error("cluster/admin/metrics server shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
}
