package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/db"
	"github.com/StayLitCodes/Vaultix/internal/events"
	apphttp "github.com/StayLitCodes/Vaultix/internal/http"
	"github.com/StayLitCodes/Vaultix/internal/http/handlers"
	"github.com/StayLitCodes/Vaultix/internal/repositories"
	"github.com/StayLitCodes/Vaultix/internal/services"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	conditionRepo := repositories.NewConditionRepo(pool)
	eventRepo := repositories.NewEventRepo(pool)

	// Events
	dispatcher := events.NewRedisDispatcher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	ledger := stellar.NewClient(cfg.StellarBridgeURL, cfg.LedgerTimeout, log)
	escrowService := services.NewEscrowService(escrowRepo, conditionRepo, eventRepo, ledger, dispatcher, cfg, log)
	checker := services.NewConsistencyChecker(escrowRepo, ledger, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	adminHandler := handlers.NewAdminHandler(checker, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, escrowHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
