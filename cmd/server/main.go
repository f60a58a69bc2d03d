// Package main is the entry point for the escrow service.
// It wires storage, the payment gateway, the event stream and the HTTP
// server, then runs the background workers until a shutdown signal.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradepost/internal/config"
	"tradepost/internal/events"
	"tradepost/internal/logging"
	"tradepost/internal/observability"
	"tradepost/internal/repositories"
	"tradepost/internal/repositories/cache"
	"tradepost/internal/routes"
	"tradepost/internal/services/escrow"
	"tradepost/internal/services/gateway"
	"tradepost/internal/services/payout"
	"tradepost/internal/services/reconcile"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type closer interface {
	Close() error
}

func main() {
	cfg := config.Load()
	log := logging.Setup(logging.Options{
		Service: "tradepost",
		Env:     cfg.Env,
		File:    cfg.LogFile,
	})

	db, err := repositories.InitDB(cfg)
	if err != nil {
		log.Error("database init failed", slog.Any("error", err))
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("database handle unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlDB.Close()
	store := repositories.NewStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := routes.Dependencies{
		DB:            sqlDB,
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        log,
	}

	var transactionCache escrow.TransactionCache
	redisClient := cache.NewRedisClient(&cache.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	cacheService := cache.NewCacheService(redisClient, cfg.CacheTTL)
	if err := cacheService.HealthCheck(ctx); err != nil {
		log.Warn("redis unavailable, running without cache", slog.Any("error", err))
	} else {
		transactionCache = cacheService
		deps.Cache = cacheService
	}

	gw, err := newGateway(cfg)
	if err != nil {
		log.Error("gateway init failed", slog.Any("error", err))
		os.Exit(1)
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		log.Error("event publisher init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisher.(closer).Close()

	metrics := observability.Escrow()
	engine := escrow.NewService(store, gw, transactionCache, publisher, escrow.EscrowConfig{
		FeeRateBps: cfg.PlatformFeeBps,
		Currency:   cfg.Currency,
		Logger:     log,
	}, metrics)
	deps.Escrow = engine

	sweeper := payout.NewSweeper(store.Transactions(), engine, gw, payout.Config{
		Hold:     cfg.PayoutHold,
		Interval: cfg.PayoutSweepInterval,
	}, metrics, log)
	reconciler := reconcile.NewReconciler(store, engine, reconcile.Config{
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
	}, metrics, log)
	go sweeper.Run(ctx)
	go reconciler.Run(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,PUT",
		AllowCredentials: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use("/api/transactions", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, deps)

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			log.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	log.Info("listening", slog.String("port", cfg.Port), slog.String("gateway", cfg.GatewayDriver))
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error("server stopped", slog.Any("error", err))
	}
}

func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.GatewayDriver {
	case config.GatewayDriverStripe:
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required for the stripe gateway")
		}
		return gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.GatewayRPS), nil
	case config.GatewayDriverSandbox:
		opts := []gateway.SandboxOption{gateway.WithPayees(cfg.SandboxPayees...)}
		if cfg.SandboxAutoAuthorize {
			opts = append(opts, gateway.WithAutoAuthorize())
		}
		return gateway.NewSandboxGateway(opts...), nil
	default:
		return nil, errors.New("unknown gateway driver " + cfg.GatewayDriver)
	}
}

// newPublisher returns a Kafka publisher when brokers are configured and a
// log-only publisher otherwise.
func newPublisher(cfg *config.Config, log *slog.Logger) (escrow.EventPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLogPublisher(log), nil
	}
	return events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		ClientID: "tradepost-" + strings.ToLower(cfg.Env),
	}, log)
}
