package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/config"
	"github.com/ManuelReschke/marketsub/internal/pkg/entitlements"
	"github.com/ManuelReschke/marketsub/internal/pkg/jobqueue"
	"github.com/ManuelReschke/marketsub/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps is everything the HTTP surface needs. Jobs, Counters and
// LimiterStorage may be nil: admin job endpoints then run inline, stats
// skip the missing sections and rate limiting keeps its state in memory.
type Deps struct {
	Config         config.Config
	Subscriptions  *subscriptions.Service
	Entitlements   *entitlements.Service
	Events         *billing.Handler
	Jobs           *jobqueue.Manager
	Counters       *counter.Counters
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Deps) {
	if deps.Entitlements == nil {
		deps.Entitlements = entitlements.NewService(deps.Subscriptions)
	}
	setup(app, NewApiRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
