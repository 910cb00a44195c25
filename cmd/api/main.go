package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yuchenfeng/TrustGate/internal/aiprobe"
	"github.com/yuchenfeng/TrustGate/internal/attestation"
	"github.com/yuchenfeng/TrustGate/internal/cache"
	"github.com/yuchenfeng/TrustGate/internal/chainprobe"
	"github.com/yuchenfeng/TrustGate/internal/community"
	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/database"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/middleware"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
	"github.com/yuchenfeng/TrustGate/internal/pipeline"
	"github.com/yuchenfeng/TrustGate/internal/registry"
	"github.com/yuchenfeng/TrustGate/internal/server"
	"github.com/yuchenfeng/TrustGate/internal/trustscore"
	"github.com/yuchenfeng/TrustGate/internal/x402"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.Server.Env)
	log.Info().Str("env", cfg.Server.Env).Msg("Starting trustgate API server")

	if cfg.Monitoring.PrometheusEnabled {
		monitoring.Init()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redisCache, err := cache.New(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// Storage and evidence collectors
	reg := registry.NewService(db.Pool)
	reader := community.NewReader(db.Pool)
	engine := trustscore.NewEngine(reg, reader, trustscore.DefaultBaselines())
	prober := chainprobe.NewProber(cfg.Chains, chainprobe.DefaultChainOrder())
	scorer := aiprobe.NewScorer(cfg.AI)

	// Attestation log, disabled without a topic
	recorder := attestation.NewRecorder(cfg.Attestation, db.Pool)
	defer recorder.Close()
	var attester pipeline.Attester
	if recorder.Enabled() {
		attester = recorder
	} else {
		log.Warn().Msg("Attestation log not configured, attestations disabled")
	}

	// Settlement, disabled without an RPC endpoint and signing key
	var settler x402.Settler = x402.NopSettler{}
	var anchor pipeline.ProofWriter
	if cfg.X402.SettlementRPCURL != "" && cfg.X402.SettlementKey != "" {
		ethSettler, err := x402.NewEthSettler(ctx, cfg.X402.SettlementRPCURL, cfg.X402.SettlementKey, cfg.X402.ChainID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize settlement")
		}
		settler = ethSettler
		anchor = ethSettler
	} else {
		log.Warn().Msg("Settlement not configured, payment verification runs without on-chain writes")
	}

	gate := x402.NewGate(cfg.X402, x402.NewRedisNonceStore(redisCache.Client), settler, x402.NewRingSink(256))
	if cfg.X402.DemoMode {
		log.Warn().Msg("Demo payment mode enabled, do not run this in production")
	}

	orchestrator := pipeline.NewOrchestrator(reg, prober, scorer, engine, attester, anchor)
	apiServer := server.NewAPIServer(reg, engine, gate, orchestrator, scorer)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(logging.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	if cfg.Monitoring.PrometheusEnabled {
		router.Use(monitoring.MetricsMiddleware())
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			log.Info().Str("addr", addr).Msg("Metrics server listening")
			mux := http.NewServeMux()
			mux.Handle("/metrics", monitoring.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}
	apiServer.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Periodically export pool stats
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Pool.Stat()
			monitoring.SetDBConnections(int(stats.AcquiredConns()), int(stats.IdleConns()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
