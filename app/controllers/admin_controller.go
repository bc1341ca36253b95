package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/jobqueue"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// JobTrigger queues the periodic subscription jobs.
type JobTrigger interface {
	TriggerPeriodicCredits(ctx context.Context, date string) (*jobqueue.Job, error)
	TriggerExpirySweep(ctx context.Context) (*jobqueue.Job, error)
}

// QueueStats reports the state of the background queue.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// CounterReader reads the outcome counters.
type CounterReader interface {
	Totals(ctx context.Context) (map[string]int64, error)
	Day(ctx context.Context, day time.Time) (map[string]int64, error)
}

// ============================================================================
// ADMIN CONTROLLER
// ============================================================================

// AdminController is the operator surface over subscriptions, the catalog
// and the order event inbox. Without a JobTrigger the job endpoints run
// their work inline.
type AdminController struct {
	subs     *subscriptions.Service
	events   *billing.Handler
	jobs     JobTrigger
	queue    QueueStats
	counters CounterReader
}

func NewAdminController(subs *subscriptions.Service, events *billing.Handler) *AdminController {
	return &AdminController{subs: subs, events: events}
}

func (ac *AdminController) WithJobs(jobs JobTrigger) *AdminController {
	ac.jobs = jobs
	return ac
}

func (ac *AdminController) WithQueue(queue QueueStats) *AdminController {
	ac.queue = queue
	return ac
}

func (ac *AdminController) WithCounters(counters CounterReader) *AdminController {
	ac.counters = counters
	return ac
}

type subscriptionIDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required,max=36"`
}

type planRequest struct {
	Key                      string          `json:"key"`
	Name                     string          `json:"name"`
	Description              string          `json:"description"`
	Price                    decimal.Decimal `json:"price"`
	BillingPeriod            string          `json:"billing_period"`
	IsActive                 *bool           `json:"is_active"`
	MaxActiveListings        *int            `json:"max_active_listings"`
	FeaturedCreditsPerPeriod int             `json:"featured_credits_per_period"`
	BadgeLabel               string          `json:"badge_label"`
	PrioritySupport          bool            `json:"priority_support"`
	CanAddMultipleStaff      bool            `json:"can_add_multiple_staff"`
}

func (r planRequest) toModel() *models.SubscriptionPlan {
	plan := &models.SubscriptionPlan{
		Key:                      strings.TrimSpace(r.Key),
		Name:                     strings.TrimSpace(r.Name),
		Description:              r.Description,
		Price:                    r.Price,
		BillingPeriod:            strings.TrimSpace(r.BillingPeriod),
		IsActive:                 r.IsActive == nil || *r.IsActive,
		MaxActiveListings:        r.MaxActiveListings,
		FeaturedCreditsPerPeriod: r.FeaturedCreditsPerPeriod,
		BadgeLabel:               r.BadgeLabel,
		PrioritySupport:          r.PrioritySupport,
		CanAddMultipleStaff:      r.CanAddMultipleStaff,
	}
	if plan.BillingPeriod == "" {
		plan.BillingPeriod = models.BillingPeriodMonthly
	}
	return plan
}

type productRequest struct {
	SKU        string `json:"sku"`
	PlanID     string `json:"plan_id"`
	PeriodDays int    `json:"period_days"`
	IsActive   *bool  `json:"is_active"`
}

func (r productRequest) toModel() *models.SubscriptionProduct {
	product := &models.SubscriptionProduct{
		SKU:        strings.TrimSpace(r.SKU),
		PlanID:     strings.TrimSpace(r.PlanID),
		PeriodDays: r.PeriodDays,
		IsActive:   r.IsActive == nil || *r.IsActive,
	}
	if product.PeriodDays == 0 {
		product.PeriodDays = 30
	}
	return product
}

type userRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type jobRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// HandleListSubscriptions lists subscriptions, newest first.
// Query: status, user_id, limit, offset.
func (ac *AdminController) HandleListSubscriptions(c *fiber.Ctx) error {
	status := strings.TrimSpace(c.Query("status"))
	switch status {
	case "", models.SubscriptionStatusActive, models.SubscriptionStatusExpired, models.SubscriptionStatusCancelled:
	default:
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "status must be active, expired or cancelled")
	}
	userID := c.QueryInt("user_id", 0)
	if userID < 0 {
		userID = 0
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	subs, err := ac.subs.ListSubscriptions(ctx, subscriptions.SubscriptionFilter{
		Status: status,
		UserID: uint(userID),
		Limit:  listLimit(c),
		Offset: offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, subs)
}

// HandleExpireSubscriptions force-expires the selected active subscriptions.
func (ac *AdminController) HandleExpireSubscriptions(c *fiber.Ctx) error {
	var req subscriptionIDsRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := ac.subs.ForceExpire(ctx, req.IDs)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{"expired": n})
}

// HandleGrantCredits gives the selected subscriptions one period's credits.
func (ac *AdminController) HandleGrantCredits(c *fiber.Ctx) error {
	var req subscriptionIDsRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := ac.subs.GrantPlanCredits(ctx, req.IDs)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{"granted": n})
}

func (ac *AdminController) HandleCancelSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ac.subs.Cancel(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, sub)
}

// HandleSubscriptionLedger returns the credit ledger of one subscription
// together with its derived balance.
func (ac *AdminController) HandleSubscriptionLedger(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	entries, err := ac.subs.CreditHistory(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	balance := 0
	for _, e := range entries {
		if e.CreditType == models.CreditTypeFeatured {
			balance += e.Change
		}
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{
		"entries": entries,
		"balance": balance,
	})
}

func (ac *AdminController) HandleProcessedOrders(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	orders, err := ac.subs.ListProcessedOrders(ctx, listLimit(c))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, orders)
}

// HandleOrderEvents lists the inbox. Query: source, unprocessed, failed, limit.
func (ac *AdminController) HandleOrderEvents(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	events, err := ac.events.ListEvents(ctx, billing.EventFilter{
		Source:          strings.ToLower(strings.TrimSpace(c.Query("source"))),
		UnprocessedOnly: c.QueryBool("unprocessed"),
		FailedOnly:      c.QueryBool("failed"),
		Limit:           listLimit(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, events)
}

// HandleReplayOrderEvent applies a stored inbox row again. Applying an
// order that was already processed changes nothing.
func (ac *AdminController) HandleReplayOrderEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "event id must be a positive number")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	applied, err := ac.events.ProcessEvent(ctx, uint(id))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{
		"event_id": id,
		"applied":  applied,
	})
}

// HandleListPlans lists every plan; ?active_only=true hides retired ones.
func (ac *AdminController) HandleListPlans(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	plans, err := ac.subs.ListPlans(ctx, c.QueryBool("active_only"))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, plans)
}

func (ac *AdminController) HandleCreatePlan(c *fiber.Ctx) error {
	var req planRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	plan := req.toModel()
	if err := ac.subs.CreatePlan(ctx, plan); err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusCreated, plan)
}

func (ac *AdminController) HandleListProducts(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := ac.subs.ListProducts(ctx, c.QueryBool("active_only"))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, products)
}

func (ac *AdminController) HandleCreateProduct(c *fiber.Ctx) error {
	var req productRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	product := req.toModel()
	if err := ac.subs.CreateProduct(ctx, product); err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusCreated, product)
}

// HandleUpsertUser mirrors a marketplace account from the identity service.
func (ac *AdminController) HandleUpsertUser(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "user id must be a positive number")
	}
	var req userRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	user := &models.User{
		ID:     uint(id),
		Name:   strings.TrimSpace(req.Name),
		Email:  strings.TrimSpace(req.Email),
		Status: strings.TrimSpace(req.Status),
	}
	if user.Status == "" {
		user.Status = models.STATUS_ACTIVE
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := ac.subs.UpsertUser(ctx, user); err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, user)
}

// HandleRunPeriodicCredits grants the monthly credits for a day (today when
// no date is given). With a job queue the run is queued and 202 is returned.
func (ac *AdminController) HandleRunPeriodicCredits(c *fiber.Ctx) error {
	var req jobRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if ac.jobs != nil {
		job, err := ac.jobs.TriggerPeriodicCredits(ctx, req.Date)
		if err != nil {
			return respondError(c, err)
		}
		return jsonData(c, fiber.StatusAccepted, fiber.Map{"job_id": job.ID})
	}

	asOf := jobqueue.PeriodicCreditsJobPayload{Date: req.Date}.AsOf(ac.subs.Now())
	granted, err := ac.subs.GrantPeriodicCredits(ctx, asOf)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{
		"granted": granted,
		"date":    asOf.Format(jobqueue.DateLayout),
	})
}

// HandleRunExpirySweep expires every lapsed subscription.
func (ac *AdminController) HandleRunExpirySweep(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if ac.jobs != nil {
		job, err := ac.jobs.TriggerExpirySweep(ctx)
		if err != nil {
			return respondError(c, err)
		}
		return jsonData(c, fiber.StatusAccepted, fiber.Map{"job_id": job.ID})
	}

	n, err := ac.subs.ExpireDue(ctx, ac.subs.Now())
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{"expired": n})
}

// HandleStats reports outcome counters and queue health. Sections whose
// backend is not wired are omitted.
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats := fiber.Map{}
	if ac.counters != nil {
		totals, err := ac.counters.Totals(ctx)
		if err != nil {
			return respondError(c, err)
		}
		today, err := ac.counters.Day(ctx, ac.subs.Now())
		if err != nil {
			return respondError(c, err)
		}
		stats["counters"] = fiber.Map{"total": totals, "today": today}
	}
	if ac.queue != nil {
		jobStats, err := ac.queue.GetJobStats(ctx)
		if err != nil {
			return respondError(c, err)
		}
		pending, err := ac.queue.GetQueueSize(ctx)
		if err != nil {
			return respondError(c, err)
		}
		processing, err := ac.queue.GetProcessingSize(ctx)
		if err != nil {
			return respondError(c, err)
		}
		stats["queue"] = fiber.Map{
			"jobs":       jobStats,
			"pending":    pending,
			"processing": processing,
		}
	}
	return jsonData(c, fiber.StatusOK, stats)
}
