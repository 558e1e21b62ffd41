package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/db"
	"github.com/StayLitCodes/Vaultix/internal/events"
	"github.com/StayLitCodes/Vaultix/internal/repositories"
	"github.com/StayLitCodes/Vaultix/internal/services"
	"github.com/StayLitCodes/Vaultix/internal/stellar"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	escrowRepo := repositories.NewEscrowRepo(pool)
	conditionRepo := repositories.NewConditionRepo(pool)
	eventRepo := repositories.NewEventRepo(pool)

	// Services
	dispatcher := events.NewRedisDispatcher(rdb, log)
	ledger := stellar.NewClient(cfg.StellarBridgeURL, cfg.LedgerTimeout, log)
	escrowService := services.NewEscrowService(escrowRepo, conditionRepo, eventRepo, ledger, dispatcher, cfg, log)
	checker := services.NewConsistencyChecker(escrowRepo, ledger, cfg, log)

	log.Info("worker started")

	expiryTicker := time.NewTicker(cfg.ExpiryCheckInterval)
	consistencyTicker := time.NewTicker(cfg.ConsistencyCheckInterval)
	defer expiryTicker.Stop()
	defer consistencyTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expiryTicker.C:
			runExpiryNotifier(ctx, escrowService, log)
		case <-consistencyTicker.C:
			runConsistencyCheck(ctx, checker, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runExpiryNotifier(ctx context.Context, escrowService *services.EscrowService, log *zap.Logger) {
	notified, err := escrowService.NotifyExpirations(ctx, time.Now(), 100)
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if notified > 0 {
		log.Info("expired escrows notified", zap.Int("count", notified))
	}
}

func runConsistencyCheck(ctx context.Context, checker *services.ConsistencyChecker, log *zap.Logger) {
	result, err := checker.Check(ctx, nil)
	if err != nil {
		log.Error("consistency sweep failed", zap.Error(err))
		return
	}
	log.Info("consistency sweep finished",
		zap.Int("checked", result.Summary.TotalChecked),
		zap.Int("inconsistent", result.Summary.TotalInconsistent),
		zap.Int("errored", result.Summary.TotalErrored),
	)
}
