package http

import (
	"time"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/http/handlers"
	"github.com/StayLitCodes/Vaultix/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	escrowHandler *handlers.EscrowHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (service-to-service token exchange)
	api.Post("/auth/token", authHandler.IssueToken)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Escrows
	protected.Post("/escrows", escrowHandler.CreateEscrow)
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/escrows/overview", escrowHandler.Overview)
	protected.Get("/escrows/:id", escrowHandler.GetEscrow)
	protected.Patch("/escrows/:id", escrowHandler.UpdateEscrow)
	protected.Post("/escrows/:id/fund", escrowHandler.FundEscrow)
	protected.Post("/escrows/:id/cancel", escrowHandler.CancelEscrow)
	protected.Post("/escrows/:id/release", escrowHandler.ReleaseEscrow)
	protected.Post("/escrows/:id/dispute", escrowHandler.DisputeEscrow)
	protected.Post("/escrows/:id/resolve", escrowHandler.ResolveDispute)
	protected.Get("/escrows/:id/events", escrowHandler.GetEscrowEvents)

	// Conditions
	protected.Post("/conditions/:id/confirm", escrowHandler.ConfirmCondition)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Post("/consistency-check", adminHandler.ConsistencyCheck)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
