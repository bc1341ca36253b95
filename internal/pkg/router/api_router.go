package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/marketsub/app/controllers"
	"github.com/ManuelReschke/marketsub/internal/pkg/middleware"
)

const (
	apiRateLimit     = 120
	webhookRateLimit = 600
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	public := controllers.NewPublicController(h.deps.Subscriptions)
	me := controllers.NewEntitlementController(h.deps.Entitlements, h.deps.Subscriptions)
	webhooks := controllers.NewWebhookController(h.deps.Events, controllers.WebhookConfig{
		OrderSecret:   h.deps.Config.OrderWebhookSecret,
		StripeSecret:  h.deps.Config.StripeWebhookSecret,
		AllowUnsigned: h.deps.Config.IsDev(),
	})

	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Webhooks get their own, higher budget so redelivery bursts from the
	// payment provider are not throttled with user traffic.
	hooks := v1.Group("/webhooks", newLimiter(h.deps.LimiterStorage, webhookRateLimit, "webhooks"))
	hooks.Post("/orders", webhooks.HandleOrderWebhook)
	hooks.Post("/stripe", webhooks.HandleStripeWebhook)

	v1.Get("/ping", public.HandlePing)
	v1.Get("/plans", newLimiter(h.deps.LimiterStorage, apiRateLimit, "public"), public.HandlePlans)
	v1.Get("/products", newLimiter(h.deps.LimiterStorage, apiRateLimit, "public"), public.HandleProducts)

	user := v1.Group("/me", newLimiter(h.deps.LimiterStorage, apiRateLimit, "me"), middleware.JWTAuth(h.deps.Config.JWTSecret))
	user.Get("/entitlements", me.HandleEntitlements)
	user.Get("/subscription", me.HandleSubscription)
	user.Get("/can-post-listing", me.HandleCanPostListing)
	user.Post("/featured-credits/consume", me.HandleConsumeFeaturedCredit)
	user.Get("/featured-credits/history", me.HandleCreditHistory)
}

// newLimiter allows max requests per minute and client IP. A nil storage
// keeps counters in process memory.
func newLimiter(storage fiber.Storage, max int, scope string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return scope + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	})
}
