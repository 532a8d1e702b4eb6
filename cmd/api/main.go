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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketflow/api"
	"marketflow/assign"
	"marketflow/auth"
	"marketflow/catalog"
	"marketflow/config"
	"marketflow/db"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/location"
	"marketflow/logger"
	"marketflow/order"
	"marketflow/payment"
)

// directoryAdapter exposes the auth user store as the location directory
// both the assignment engine and the order service consume.
type directoryAdapter struct {
	auth *auth.Service
}

func (d directoryAdapter) LocationOf(ctx context.Context, userID string) (assign.BuyerLocation, error) {
	loc, err := d.auth.LocationOf(ctx, userID)
	if err != nil {
		return assign.BuyerLocation{}, err
	}
	return assign.BuyerLocation{City: loc.City, State: loc.State}, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		zl.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	var geoCache location.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
		geoCache = location.NewRedisCache(rdb, cfg.Geo.CacheTTL)
	} else {
		geoCache = location.NewMemoryCache(cfg.Geo.CacheTTL)
	}

	resolver := location.NewResolver(geoCache, location.Config{
		UserAgent: cfg.Geo.UserAgent,
		ORSAPIKey: cfg.Geo.ORSAPIKey,
		Timeout:   cfg.Geo.Timeout,
	}, zl)

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.Auth.JWTSecret)
	directory := directoryAdapter{auth: authSvc}

	catalogRepo := catalog.NewRepository(pool)
	engine := assign.NewEngine(catalogRepo, directory, resolver)

	orderRepo := order.NewRepository(pool)
	escrowRepo := escrow.NewRepository(pool)

	orderSvc := order.NewService(pool, orderRepo, catalogRepo, escrowRepo, engine, directory, cfg.Escrow.CommissionRate, zl)
	escrowSvc := escrow.NewService(pool, escrowRepo, orderRepo, zl)

	disputeRepo := dispute.NewRepository(pool)
	disputeSvc := dispute.NewService(pool, disputeRepo, orderRepo, escrowRepo, zl)

	gateway := payment.NewRazorpayClient(cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.BaseURL)
	paymentSvc := payment.NewService(pool, orderRepo, gateway, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Currency, zl)

	if cfg.Escrow.AutoReleaseEnabled {
		scheduler := escrow.NewScheduler(escrowSvc, cfg.Escrow.AutoReleaseEvery, cfg.Escrow.HoldHours, cfg.Escrow.BatchSize, zl)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	router := api.NewRouter(api.Services{
		Auth:     authSvc,
		Orders:   orderSvc,
		Escrow:   escrowSvc,
		Disputes: disputeSvc,
		Payments: paymentSvc,
	})

	srv := &http.Server{
		Addr:    cfg.App.Addr,
		Handler: router,
	}

	go func() {
		zl.Info("http server listening", zap.String("addr", cfg.App.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
}
