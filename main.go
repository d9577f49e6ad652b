package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/yeremiapane/restaurant-floor/config"
	"github.com/yeremiapane/restaurant-floor/contentapi"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/events"
	"github.com/yeremiapane/restaurant-floor/hub"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/router"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		utils.ErrorLogger.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	// Initialize DB
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	store := database.NewStore(db, database.WithReadAttempts(cfg.ReadAttempts+1))

	var index services.SessionIndex = services.NewMemorySessionIndex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return err
		}
		index = services.NewRedisSessionIndex(rdb, "")
		utils.InfoLogger.WithField("addr", cfg.RedisAddr).Info("Session index on Redis")
	}

	floorHub := hub.NewFloorHub()
	notifiers := services.MultiNotifier{floorHub}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	engine := services.NewEngine(store, services.NewLockManager(cfg.LockWait),
		services.WithNotifier(notifiers),
		services.WithBackendTimeout(cfg.BackendTimeout),
		services.WithSessionIndex(index),
	)
	sessions := services.NewSessionManager(engine, services.SessionConfig{
		TTL:              cfg.SessionTTL,
		ExpireToCleaning: cfg.SessionExpireToCleaning,
		Rejoin:           cfg.SessionRejoin,
	})

	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	warmed, err := sessions.Warm(warmCtx)
	cancel()
	if err != nil {
		utils.ErrorLogger.Errorf("Session index warm-up incomplete: %v", err)
	}
	utils.InfoLogger.Infof("Session index warmed with %d active sessions", warmed)

	sweeper := services.NewSessionSweeper(sessions, cfg.SessionSweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	limiter := middlewares.NewScanLimiter(cfg.ScanRate, cfg.ScanBurst)
	limiter.Start(time.Minute)
	defer limiter.Stop()

	if err := middlewares.RegisterValidators(); err != nil {
		return err
	}

	deps := router.Deps{
		Tables:      services.NewTableStateMachine(engine),
		Sessions:    sessions,
		Registry:    services.NewRegistry(engine),
		Metrics:     services.NewMetricsAggregator(store, engine.Ledger()),
		Hub:         floorHub,
		ScanLimiter: limiter,
		Secret:      []byte(cfg.IdentitySecret),
		CORSOrigins: cfg.CORSOrigins,
		Health:      store,
		Security: middlewares.SecurityConfig{
			ContentSecurityPolicy: cfg.ContentSecurityPolicy,
			HSTSMaxAge:            cfg.HSTSMaxAge,
		},
	}
	if cfg.ContentAPIURL != "" {
		deps.Menu = contentapi.NewClient(cfg.ContentAPIURL, cfg.ContentAPITimeout)
	}
	r := router.SetupRouter(deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		utils.InfoLogger.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
