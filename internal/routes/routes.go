package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lendledger/lendledger/internal/account"
	"github.com/lendledger/lendledger/internal/config"
	"github.com/lendledger/lendledger/internal/funding"
	"github.com/lendledger/lendledger/internal/ledger"
	"github.com/lendledger/lendledger/internal/loan"
	"github.com/lendledger/lendledger/internal/middleware"
	"github.com/lendledger/lendledger/internal/notification"
	"github.com/lendledger/lendledger/internal/wallet"
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
	// main checks these too; keep the invariant local so tests cannot wire a
	// production app without backends.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

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

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		pg := ledger.NewPostgres(d.DB)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
		store = pg
	} else {
		store = ledger.NewMemory()
	}

	var notifier notification.Notifier
	if len(d.Cfg.KafkaBrokers) > 0 {
		notifier = notification.NewKafkaNotifier(d.Cfg.KafkaBrokers, d.Cfg.KafkaTopic)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	accountSvc := account.NewService(store)
	walletSvc := wallet.NewService(store, notifier)
	loanSvc := loan.NewService(store)
	fundingSvc := funding.NewService(store, notifier)

	accountHandler := account.NewHandler(accountSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	loanHandler := loan.NewHandler(loanSvc)
	fundingHandler := funding.NewHandler(fundingSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accountHandler)
	RegisterWalletRoutes(api, walletHandler)
	RegisterLoanRoutes(api, loanHandler, fundingHandler)

	return nil
}
