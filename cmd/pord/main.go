package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/math"

	"github.com/por-chain/por/config"
	"github.com/por-chain/por/internal/api"
	"github.com/por-chain/por/internal/cache"
	"github.com/por-chain/por/internal/metrics"
	"github.com/por-chain/por/internal/oracle"
	"github.com/por-chain/por/internal/store"
	"github.com/por-chain/por/internal/websocket/hub"
	"github.com/por-chain/por/pkg/logger"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	log := logger.NewLogger("pord")
	log.Info("Starting PoR Oracle", "version", version, "build_time", buildTime)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if configured, err := logger.New(logger.Config(cfg.Logging)); err == nil {
		log = configured
	} else {
		log.Warn("Invalid logging configuration, keeping defaults", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Archive database (optional)
	var archive *store.Store
	if cfg.Database.Enabled {
		log.Info("Connecting to archive database", "host", cfg.Database.Host, "port", cfg.Database.Port)
		archive, err = store.New(store.Config{
			URL:            cfg.Database.GetConnectionString(),
			MaxConnections: cfg.Database.MaxOpenConns,
			MaxIdle:        cfg.Database.MaxIdleConns,
			ConnMaxLife:    cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Error("Failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer archive.Close()

		if err := archive.InitSchema(); err != nil {
			log.Error("Failed to initialize archive schema", "error", err)
			os.Exit(1)
		}
	}

	// Redis cache (optional)
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		log.Info("Connecting to Redis", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
		redisCache, err = cache.NewRedisCache(cache.Config{
			Address:  cfg.Redis.GetRedisAddress(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "por:",
		})
		if err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
	}

	// WebSocket hub
	wsHub := hub.NewHub(log)
	go wsHub.Run()

	// Consensus engine with event fanout
	params, err := engineParams(cfg.Oracle)
	if err != nil {
		log.Error("Invalid oracle parameters", "error", err)
		os.Exit(1)
	}

	fanout := newEventFanout(wsHub, archive, log)
	engine, err := oracle.NewEngine(params, log, oracle.WithEmitter(fanout))
	if err != nil {
		log.Error("Failed to build consensus engine", "error", err)
		os.Exit(1)
	}
	fanout.engine = engine
	go fanout.run(ctx)

	// Expiry janitor sweeps overdue rounds
	go func() {
		ticker := time.NewTicker(cfg.Oracle.ExpirySweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for range engine.ExpireDue() {
					metrics.RecordRoundExpired()
				}
			}
		}
	}()

	// API server
	log.Info("Initializing API server", "port", cfg.API.Port)
	apiServer := api.NewServer(cfg.API, engine, archive, redisCache, cfg.Redis.CacheTTL, wsHub, log)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received interrupt signal, shutting down gracefully")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Stopping API server")
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", "error", err)
	}

	log.Info("Stopping WebSocket hub")
	wsHub.Stop()

	if metricsServer != nil {
		log.Info("Stopping metrics server")
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop metrics server gracefully", "error", err)
		}
	}

	log.Info("PoR Oracle stopped successfully")
}

// engineParams builds the consensus parameters from configuration, falling
// back to defaults for unset fields.
func engineParams(cfg config.OracleConfig) (oracle.Params, error) {
	p := oracle.DefaultParams()

	if cfg.MinStake != "" {
		minStake, ok := math.NewIntFromString(cfg.MinStake)
		if !ok {
			return oracle.Params{}, fmt.Errorf("min_stake must be an integer string, got %q", cfg.MinStake)
		}
		p.MinStake = minStake
	}
	if cfg.ConsensusThreshold != "" {
		threshold, err := math.LegacyNewDecFromStr(cfg.ConsensusThreshold)
		if err != nil {
			return oracle.Params{}, fmt.Errorf("invalid consensus_threshold: %w", err)
		}
		p.ConsensusThreshold = threshold
	}
	if cfg.RoundDuration > 0 {
		p.RoundDuration = cfg.RoundDuration
	}
	if cfg.SlashPenaltyBps > 0 {
		p.SlashPenaltyBps = cfg.SlashPenaltyBps
	}

	return p, p.Validate()
}
