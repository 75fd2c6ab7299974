// jobmate-placement-service
//
// Paid job-ad placement for the job board.
// Exposes a REST API used by the Gateway to implement:
//   - checkout / upgrade / renew orders with catalog pricing
//   - payment reconciliation (deposit approval, card confirmation)
//   - manual jumps, edits, moderation and business verification
//   - public listing in tier + recency order
//
// Housekeeping (auto jumps, expiry, overdue deposits, daily resets,
// expiry notices) runs in-process on cron when CRON_ENABLED is set, or
// through the /cron/{job} endpoints from an external scheduler.
// Publishes ad status and notification events to Redis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"jobmate/placement-service/internal/config"
	"jobmate/placement-service/internal/db"
	"jobmate/placement-service/internal/events"
	"jobmate/placement-service/internal/gateway"
	"jobmate/placement-service/internal/grpcserver"
	"jobmate/placement-service/internal/logging"
	"jobmate/placement-service/internal/metrics"
	"jobmate/placement-service/internal/pgstore"
	"jobmate/placement-service/internal/placement"
	"jobmate/placement-service/internal/pricing"
	"jobmate/placement-service/internal/ratelimit"
	"jobmate/placement-service/internal/registry"
	"jobmate/placement-service/internal/scheduler"
)

const (
	serviceName = "placement-service"
	version     = "1.0.0"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("[%s] %v", serviceName, err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[%s] Config error: %v", serviceName, err)
	}

	logger, err := logging.New(cfg.LogLevel, serviceName)
	if err != nil {
		log.Fatalf("[%s] Logger: %v", serviceName, err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	logger.Info("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("schema", zap.Error(err))
	}
	logger.Info("postgres connected")

	// ── Redis ────────────────────────────────────────────────────────────────
	logger.Info("connecting to Redis")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("redis connected")

	// ── Pricing catalog ──────────────────────────────────────────────────────
	catalog, err := pricing.Load(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("pricing catalog", zap.Error(err))
	}

	// ── Placement service ────────────────────────────────────────────────────
	recorder := metrics.New()
	opts := []placement.Option{
		placement.WithLogger(logger),
		placement.WithLocation(cfg.Location),
		placement.WithPublisher(events.NewRedisPublisher(rdb)),
		placement.WithRecorder(recorder),
		placement.WithBannedTerms(cfg.BannedTerms),
	}
	if cfg.GatewayURL != "" {
		opts = append(opts, placement.WithGateway(gateway.NewClient(cfg.GatewayURL, cfg.GatewaySecretKey)))
	} else {
		logger.Warn("GATEWAY_URL not set, card payments cannot be confirmed")
	}
	if cfg.RegistryURL != "" {
		opts = append(opts, placement.WithRegistry(registry.NewClient(cfg.RegistryURL, cfg.RegistryAPIKey)))
	} else {
		logger.Warn("REGISTRY_URL not set, business numbers go to manual review")
	}
	svc := placement.NewService(pgstore.New(pool, logger.Named("pgstore")), catalog, opts...)

	// ── Scheduler ────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.CronEnabled {
		sched = scheduler.New(svc, scheduler.DefaultEntries, cfg.Location, logger.Named("scheduler"))
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", recorder.Handler())

	h := placement.NewHandler(svc, cfg.CronSecret, logger.Named("http"))
	h.RegisterRoutes(mux)

	limiter := ratelimit.New(rdb, cfg.RateLimitPerMinute, logger.Named("ratelimit"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      limiter.Middleware(mux, "/health", "/metrics"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("version", version), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err))
	}
	gs := grpc.NewServer()
	rpc := grpcserver.NewServer(svc, logger.Named("grpc"))
	rpc.Register(gs)
	go rpc.WatchHealth(ctx, pool, 15*time.Second)

	go func() {
		logger.Info("grpc listening", zap.String("port", cfg.GRPCPort))
		if err := gs.Serve(lis); err != nil {
			logger.Error("grpc server", zap.Error(err))
		}
	}()

	// ── Signals ──────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		if sig != syscall.SIGHUP {
			break
		}
		reloadCatalog(svc, cfg.CatalogPath, logger)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		gs.Stop()
	}
	cancel()
	logger.Info("stopped")
}

// reloadCatalog swaps in a freshly read catalog. A broken file keeps the
// current one.
func reloadCatalog(svc *placement.Service, path string, logger *zap.Logger) {
	c, err := pricing.Load(path)
	if err != nil {
		logger.Error("catalog reload failed, keeping current", zap.Error(err))
		return
	}
	svc.SetCatalog(c)
	logger.Info("catalog reloaded", zap.String("path", path))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": serviceName,
		"version": version,
	})
}
