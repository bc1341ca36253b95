package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/marketsub/app/controllers"
	"github.com/ManuelReschke/marketsub/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Deps
}

func NewAdminRouter(deps Deps) *AdminRouter {
	return &AdminRouter{deps: deps}
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := controllers.NewAdminController(h.deps.Subscriptions, h.deps.Events)
	// Only assign non-nil pointers; a typed nil inside an interface would
	// look wired to the controller.
	if h.deps.Jobs != nil {
		admin.WithJobs(h.deps.Jobs).WithQueue(h.deps.Jobs.GetQueue())
	}
	if h.deps.Counters != nil {
		admin.WithCounters(h.deps.Counters)
	}

	adminGroup := app.Group("/admin", middleware.AdminKeyAuth(h.deps.Config.AdminAPIKey))

	// Subscriptions
	adminGroup.Get("/subscriptions", admin.HandleListSubscriptions)
	adminGroup.Post("/subscriptions/expire", admin.HandleExpireSubscriptions)
	adminGroup.Post("/subscriptions/grant-credits", admin.HandleGrantCredits)
	adminGroup.Post("/subscriptions/:id/cancel", admin.HandleCancelSubscription)
	adminGroup.Get("/subscriptions/:id/ledger", admin.HandleSubscriptionLedger)
	adminGroup.Get("/processed-orders", admin.HandleProcessedOrders)

	// Order event inbox
	adminGroup.Get("/order-events", admin.HandleOrderEvents)
	adminGroup.Post("/order-events/:id/replay", admin.HandleReplayOrderEvent)

	// Catalog
	adminGroup.Get("/plans", admin.HandleListPlans)
	adminGroup.Post("/plans", admin.HandleCreatePlan)
	adminGroup.Get("/products", admin.HandleListProducts)
	adminGroup.Post("/products", admin.HandleCreateProduct)
	adminGroup.Put("/users/:id", admin.HandleUpsertUser)

	// Jobs + stats
	adminGroup.Post("/jobs/grant-credits", admin.HandleRunPeriodicCredits)
	adminGroup.Post("/jobs/expire", admin.HandleRunExpirySweep)
	adminGroup.Get("/stats", admin.HandleStats)
}
