package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StewartGolf/CartBox/config"
	warrantyapi "github.com/StewartGolf/CartBox/internal/api/warranty_api"
	"github.com/StewartGolf/CartBox/internal/auth"
	"github.com/StewartGolf/CartBox/internal/broker/kafka"
	"github.com/StewartGolf/CartBox/internal/cache"
	"github.com/StewartGolf/CartBox/internal/cache/rediscache"
	"github.com/StewartGolf/CartBox/internal/services/lifecycle"
	"github.com/StewartGolf/CartBox/internal/storage/memwarranty"
	"github.com/StewartGolf/CartBox/internal/storage/pgwarranty"
)

type cartAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   cartAPIOpts
	api    *warrantyapi.WarrantyAPI

	closeDB func()
}

func mustBootstrapCartAPI() *cartAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.CartBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	if cfg.CartBox.AdminSecret == "" {
		panic("cartbox.admin_secret is required")
	}

	var (
		repo    lifecycle.Repository
		closeDB func()
	)
	if cfg.Database.Host == "" {
		// No database configured, run on the in-memory store. Useful for
		// local demos, never for production.
		slog.Warn("database.host is empty, using in-memory storage")
		repo = memwarranty.New()
	} else {
		sslMode := cfg.Database.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
		st := mustOpenPostgresWithRetry(connString, 60*time.Second)
		repo = st
		closeDB = st.Close
	}

	var (
		lookupCache cache.BytesCache
		limiter     warrantyapi.RateLimiter
	)
	if cfg.Redis.Host != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		lookupCache = rediscache.New(redisAddr)
		limiter = rediscache.NewRateLimiter(redisAddr)
	}

	svc := lifecycle.New(repo, lookupCache, producerOrNil(cfg), lifecycle.Settings{
		ConfirmationTopic:     cfg.Kafka.RegistrationConfirmedTopicName,
		LookupCacheTTL:        time.Duration(cfg.CartBox.LookupCacheTTLSeconds) * time.Second,
		DefaultWarrantyMonths: cfg.CartBox.DefaultWarrantyMonths,
		PurgeScanLimit:        cfg.CartBox.PurgeScanLimit,
		PurgeBatchSize:        cfg.CartBox.PurgeBatchSize,
	})

	tokenTTL := time.Duration(cfg.CartBox.AdminTokenTTLSeconds) * time.Second
	guard := auth.NewGuard(cfg.CartBox.AdminSecret, tokenTTL)

	api := warrantyapi.New(svc, guard, limiter, warrantyapi.Options{
		RegistrationsPerMinute: int64(cfg.CartBox.RegistrationRateLimitPerMinute),
	}, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &cartAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: cartAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     api,
		closeDB: closeDB,
	}
}

func producerOrNil(cfg *config.Config) lifecycle.Producer {
	if cfg.Kafka.Host == "" {
		return nil
	}
	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	return kafka.NewProducer(brokers)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgwarranty.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgwarranty.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *cartAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *cartAPIApp) Run() error {
	return runCartAPI(a.ctx, a.opts, a.api)
}
