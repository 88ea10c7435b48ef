package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/usecase/archive"
	"pricepulse/internal/application/usecase/pricing"
	"pricepulse/internal/application/usecase/realtime"
	"pricepulse/internal/infrastructure/chain"
	"pricepulse/internal/infrastructure/config"
	"pricepulse/internal/infrastructure/logger"
	"pricepulse/internal/infrastructure/storage/postgres"
	"pricepulse/internal/infrastructure/storage/redis"
	"pricepulse/internal/infrastructure/storage/sqlite"
	"pricepulse/internal/interfaces/api"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store port.Store
	switch cfg.Storage.Driver {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresDSN)
	default:
		store, err = sqlite.New(cfg.Storage.SQLitePath)
	}
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open storage failed")
	}
	defer store.Close()

	// Redis is a shared tier, not a dependency: start without it when it is
	// missing or unreachable.
	var shared port.SharedCache
	if cfg.Cache.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid cache.redis_url")
		}
		rdb := goredis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, continuing without shared tier")
		} else {
			shared = redis.New(rdb, "price")
		}
		cancel()
	}

	chainClient, err := chain.New(cfg.Chains, cfg.CallTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("dial chains failed")
	}
	defer chainClient.Close()

	norm := pricing.NewNormalizer(cfg.Coins)
	resolver := pricing.NewResolver(cfg.Coins, cfg.Chains, store, chainClient)
	reader := pricing.NewReader(chainClient, cfg.OracleMaxAge(), cfg.Oracle.Retries, cfg.Backoff())
	ttl := pricing.NewTTLPolicy(cfg.Cache.StableCoins, norm.Universe(), cfg.Cache.MajorCount)
	cache := pricing.NewCacheManager(cfg.Cache.MaxEntries, shared, store, ttl, cfg.OracleMaxAge(), cfg.DurableCutoff(), cfg.RedisTTL())
	svc := pricing.NewService(norm, resolver, reader, cache, cfg.MicroAge(), cfg.SnapshotMaxAge())

	hub := realtime.NewHub()
	alerts := realtime.NewAlertEngine(store, hub)
	loop := realtime.NewLoop(svc, hub, alerts, cfg.TickInterval())
	archiver := archive.New(svc, store, cfg.SnapshotInterval(), cfg.RetentionSweep(), cfg.Retention(), cfg.ReverifyEvery(), cfg.Cache.MajorCount)
	server := api.NewServer(cfg.App.Listen, svc, archiver, hub, store)

	log.Info().
		Str("config", *configPath).
		Str("listen", cfg.App.Listen).
		Str("storage", cfg.Storage.Driver).
		Int("coins", len(cfg.Coins)).
		Int("chains", len(cfg.Chains)).
		Bool("redis", shared != nil).
		Msg("pricepulse started")

	if cfg.App.WarmTop > 0 {
		go svc.Warm(ctx, cfg.App.WarmTop)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		archiver.Run(ctx)
	}()

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server exited")
		stop()
	}
	wg.Wait()
}
