package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paylock/paylock/internal/config"
	"github.com/paylock/paylock/internal/directory"
	"github.com/paylock/paylock/internal/escrow"
	"github.com/paylock/paylock/internal/event"
	"github.com/paylock/paylock/internal/funding"
	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/metrics"
	"github.com/paylock/paylock/internal/middleware"
	"github.com/paylock/paylock/internal/transfer"
	"github.com/paylock/paylock/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health and metrics
	RegisterHealthRoutes(app, d)
	collector := metrics.NewCollector()
	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	// Backends
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}

	var parties directory.Repository
	if d.DB != nil {
		parties = directory.NewPostgresRepository(d.DB)
	} else {
		parties = directory.NewMemoryRepository()
	}

	var events event.Publisher
	if d.Cache != nil {
		events = event.NewRedisPublisher(d.Cache, d.Cfg.EventStream, d.Logger)
	} else {
		events = event.NewLogPublisher(d.Logger)
	}

	// Services and handlers
	walletSvc := wallet.NewService(store, collector)
	escrowSvc := escrow.NewService(store, events, collector)
	transferSvc := transfer.NewService(store, parties, events, collector)
	fundingSvc := funding.NewService(store, nil, events, collector, d.Cfg.ProcessorTimeout)

	partyHandler := directory.NewHandler(parties)
	walletHandler := wallet.NewHandler(walletSvc)
	escrowHandler := escrow.NewHandler(escrowSvc)
	transferHandler := transfer.NewHandler(transferSvc)
	fundingHandler := funding.NewHandler(fundingSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterPartyRoutes(api, partyHandler)
	RegisterWalletRoutes(api, walletHandler)
	RegisterEscrowRoutes(api, escrowHandler)
	RegisterTransferRoutes(api, transferHandler)
	RegisterFundingRoutes(api, fundingHandler)

	return nil
}
