package http

import (
	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/http/handlers"
	"github.com/ads-marketplace/deal-engine/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Deals    *handlers.DealHandler
	Channels *handlers.ChannelHandler
	Clicks   *handlers.ClickHandler
	Meta     *handlers.MetaHandler
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Click redirect (public, rate-limited per visitor IP)
	app.Get("/c/:id",
		middleware.RateLimitMiddleware(rdb, "click", cfg.ClickRateLimit, cfg.ClickRateWindow, log),
		h.Clicks.Redirect,
	)

	api := app.Group("/internal", middleware.InternalTokenMiddleware(cfg.InternalAPIToken, log))

	// Meta
	api.Get("/meta/statuses", h.Meta.GetStatuses)
	api.Get("/meta/pricing-modes", h.Meta.GetPricingModes)

	// Channels
	api.Post("/channels", h.Channels.RegisterChannel)
	api.Get("/channels/:id", h.Channels.GetChannel)

	// Deals
	api.Post("/deals", h.Deals.CreateDeal)
	api.Get("/deals/:id", h.Deals.GetDeal)
	api.Get("/deals/:id/transactions", h.Deals.GetTransactions)
	api.Get("/deals/:id/earning", h.Deals.GetEarning)
	api.Get("/deals/:id/history", h.Deals.GetHistory)
	api.Get("/deals/:id/clicks", h.Clicks.Stats)
	api.Post("/deals/:id/transition", h.Deals.Transition)
	api.Post("/deals/:id/hold", h.Deals.Hold)
	api.Post("/deals/:id/release", h.Deals.Release)
	api.Post("/deals/:id/refund", h.Deals.Refund)
	api.Post("/deals/:id/auto-post", h.Deals.AutoPost)
}
