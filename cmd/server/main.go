package main // Entry point package

import (
	"context"   // shutdown and background work
	"errors"    // errors.Is for server close
	"net/http"  // http.ErrServerClosed
	"os"        // log file and signals
	"os/signal" // graceful shutdown
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9" // shared ledger, cache and rate limiter
	"go.uber.org/zap"              // structured logging

	"github.com/iliyamo/cinema-booking-engine/internal/booking"
	"github.com/iliyamo/cinema-booking-engine/internal/config" // Internal config loader
	"github.com/iliyamo/cinema-booking-engine/internal/database"
	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/logging"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/router" // Internal router setup
	"github.com/iliyamo/cinema-booking-engine/internal/scopedtoken"
	"github.com/iliyamo/cinema-booking-engine/internal/service"
)

const bookingLogPath = "logs/booking.log"

func main() {
	cfg := config.Load() // Load environment config
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
	}

	// Redis is required by the redis ledger; otherwise it only backs the
	// cache and the rate limiter, which are skipped when it is down.
	var rdb redis.UniversalClient
	if client, err := config.NewRedisClient(config.LoadRedisConfig()); err != nil {
		if cfg.LedgerBackend == config.LedgerRedis {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		log.Warn("redis unavailable, cache and rate limiting disabled", zap.Error(err))
	} else {
		rdb = client
		defer client.Close()
	}

	catalog := repository.NewCatalogRepo(db)
	bookings := repository.NewBookingRepo(db)

	var seats ledger.Ledger
	switch cfg.LedgerBackend {
	case config.LedgerRedis:
		seats = ledger.NewRedisLedger(rdb, bookings, cfg.LedgerPrefix, cfg.SeatHoldTTL)
	default:
		seats = ledger.NewMemoryLedger(bookings)
	}
	log.Info("seat ledger ready", zap.String("backend", cfg.LedgerBackend))

	secret := cfg.ScopedTokenSecret
	if secret == "" {
		secret = cfg.JWTSecret
	}
	key := scopedtoken.DeriveKey(secret)
	verifier := scopedtoken.NewVerifier(key)
	issuer := scopedtoken.NewIssuer(key, scopedtoken.WithTTL(cfg.ScopedTokenTTL))

	opts := []booking.CoordinatorOption{
		booking.WithLogger(log),
		booking.WithTimeout(cfg.BookingTimeout),
	}
	if cfg.RabbitURL != "" {
		pub := service.NewQueuePublisher(cfg.RabbitURL, log)
		defer pub.Close()
		opts = append(opts, booking.WithPublisher(pub))

		if cfg.ConsumerEnabled {
			if err := os.MkdirAll(filepath.Dir(bookingLogPath), 0o755); err != nil {
				log.Fatal("create log dir", zap.Error(err))
			}
			f, err := os.OpenFile(bookingLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				log.Fatal("open booking log", zap.Error(err))
			}
			defer f.Close()
			consumer := queue.NewConsumer(cfg.RabbitURL, f, log)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("booking consumer stopped", zap.Error(err))
				}
			}()
		}
	}
	coordinator := booking.NewCoordinator(catalog, seats, verifier, bookings, opts...)

	var cache *middleware.ResponseCache
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	if rdb != nil {
		cache = middleware.NewResponseCache(config.LoadCacheConfig(), rdb)
	}

	checks := map[string]handler.Check{"mysql": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	e := router.New(log)
	router.RegisterRoutes(e, checks)
	router.RegisterPublic(e, handler.NewScheduleHandler(catalog, seats, issuer, log), cache)
	var invalidator handler.CacheInvalidator
	if cache != nil {
		invalidator = cache
	}
	router.RegisterBooking(e, handler.NewBookingHandler(coordinator, bookings, invalidator, log), cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
}
