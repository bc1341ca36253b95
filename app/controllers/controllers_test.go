package controllers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/entitlements"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
	"github.com/ManuelReschke/marketsub/internal/pkg/testdb"
	"github.com/ManuelReschke/marketsub/internal/pkg/usercontext"
)

const (
	orderSecret = "order-secret"
	testUserHdr = "X-Test-User"
)

type testApp struct {
	app     *fiber.App
	db      *gorm.DB
	subs    *subscriptions.Service
	catalog testdb.Catalog
}

// asUser stands in for the JWT middleware.
func asUser(c *fiber.Ctx) error {
	id, _ := strconv.Atoi(c.Get(testUserHdr))
	usercontext.Set(c, usercontext.UserContext{UserID: uint(id), IsLoggedIn: id > 0})
	return c.Next()
}

func newTestApp(t *testing.T, cfg WebhookConfig) *testApp {
	t.Helper()
	db := testdb.New(t)
	catalog := testdb.SeedCatalog(t, db)
	testdb.SeedUser(t, db, 1)
	testdb.SeedUser(t, db, 2)

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	subs := subscriptions.NewServiceFromDB(db, subscriptions.WithClock(func() time.Time { return now }))
	events := billing.NewHandlerFromDB(db, subs, nil)

	public := NewPublicController(subs)
	me := NewEntitlementController(entitlements.NewService(subs), subs)
	hooks := NewWebhookController(events, cfg)
	admin := NewAdminController(subs, events)

	app := fiber.New()
	app.Get("/ping", public.HandlePing)
	app.Get("/plans", public.HandlePlans)
	app.Get("/products", public.HandleProducts)
	app.Post("/webhooks/orders", hooks.HandleOrderWebhook)
	app.Post("/webhooks/stripe", hooks.HandleStripeWebhook)

	user := app.Group("/me", asUser)
	user.Get("/entitlements", me.HandleEntitlements)
	user.Get("/subscription", me.HandleSubscription)
	user.Get("/can-post-listing", me.HandleCanPostListing)
	user.Post("/featured-credits/consume", me.HandleConsumeFeaturedCredit)
	user.Get("/featured-credits/history", me.HandleCreditHistory)

	app.Get("/admin/subscriptions", admin.HandleListSubscriptions)
	app.Post("/admin/subscriptions/expire", admin.HandleExpireSubscriptions)
	app.Post("/admin/subscriptions/grant-credits", admin.HandleGrantCredits)
	app.Post("/admin/subscriptions/:id/cancel", admin.HandleCancelSubscription)
	app.Get("/admin/subscriptions/:id/ledger", admin.HandleSubscriptionLedger)
	app.Get("/admin/processed-orders", admin.HandleProcessedOrders)
	app.Get("/admin/order-events", admin.HandleOrderEvents)
	app.Post("/admin/order-events/:id/replay", admin.HandleReplayOrderEvent)
	app.Get("/admin/plans", admin.HandleListPlans)
	app.Post("/admin/plans", admin.HandleCreatePlan)
	app.Post("/admin/products", admin.HandleCreateProduct)
	app.Put("/admin/users/:id", admin.HandleUpsertUser)
	app.Post("/admin/jobs/grant-credits", admin.HandleRunPeriodicCredits)
	app.Post("/admin/jobs/expire", admin.HandleRunExpirySweep)
	app.Get("/admin/stats", admin.HandleStats)

	return &testApp{app: app, db: db, subs: subs, catalog: catalog}
}

func (ta *testApp) do(t *testing.T, method, path string, body []byte, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func signed(payload []byte, deliveryID string) map[string]string {
	return map[string]string{
		HeaderSignature:  "sha256=" + hex.EncodeToString(billing.SignOrderWebhook(payload, orderSecret)),
		HeaderDeliveryID: deliveryID,
	}
}

func orderPayload(reference, sku string, userID uint) []byte {
	return []byte(`{"type":"order.paid","data":{"order":{"reference":"` + reference +
		`","user_id":` + strconv.Itoa(int(userID)) + `},"items":[{"sku":"` + sku + `"}]}}`)
}

func userHeader(id uint) map[string]string {
	return map[string]string{testUserHdr: strconv.Itoa(int(id))}
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "data is not an object: %v", body)
	return d
}

func TestPing(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{})
	status, body := ta.do(t, fiber.MethodGet, "/ping", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pong", body["message"])
}

func TestPublicPlansHideInactive(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{})
	require.NoError(t, ta.db.Model(&models.SubscriptionPlan{}).
		Where("id = ?", ta.catalog.FreeListing.ID).Update("is_active", false).Error)

	status, body := ta.do(t, fiber.MethodGet, "/plans", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	plans := body["data"].([]interface{})
	assert.Len(t, plans, 2)
	for _, p := range plans {
		assert.NotEqual(t, "free-listing", p.(map[string]interface{})["key"])
	}
}

func TestOrderWebhookActivatesOnce(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{OrderSecret: orderSecret})
	payload := orderPayload("ORD-1", testdb.SKUBusinessBasic, 1)

	status, body := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, signed(payload, "dlv-1"))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, false, body["duplicate"])
	assert.Equal(t, float64(1), body["applied"])

	status, body = ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, signed(payload, "dlv-1"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	// Same order under a new delivery id is applied as a no-op.
	status, body = ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, signed(payload, "dlv-2"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["duplicate"])

	var subs int64
	require.NoError(t, ta.db.Model(&models.UserSubscription{}).Count(&subs).Error)
	assert.Equal(t, int64(1), subs)

	status, body = ta.do(t, fiber.MethodGet, "/me/entitlements", nil, userHeader(1))
	require.Equal(t, fiber.StatusOK, status)
	ents := data(t, body)
	assert.Equal(t, true, ents["has_active_subscription"])
	assert.Equal(t, "business-basic", ents["plan_key"])
	assert.Equal(t, float64(3), ents["featured_credits_balance"])
	assert.Nil(t, ents["max_active_listings"])
}

func TestOrderWebhookSignature(t *testing.T) {
	payload := orderPayload("ORD-2", testdb.SKUBusinessBasic, 1)

	ta := newTestApp(t, WebhookConfig{OrderSecret: orderSecret})
	status, body := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, map[string]string{
		HeaderSignature: "sha256=deadbeef",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])

	unconfigured := newTestApp(t, WebhookConfig{})
	status, _ = unconfigured.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	dev := newTestApp(t, WebhookConfig{AllowUnsigned: true})
	status, body = dev.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["applied"])

	var event models.OrderEvent
	require.NoError(t, dev.db.First(&event).Error)
	assert.False(t, event.SignatureValid)
}

func TestOrderWebhookRejectsBrokenBodies(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{OrderSecret: orderSecret})

	broken := []byte(`{"order":`)
	status, _ := ta.do(t, fiber.MethodPost, "/webhooks/orders", broken, signed(broken, "dlv-x"))
	assert.Equal(t, fiber.StatusBadRequest, status)

	noRef := []byte(`{"user_id":1,"items":[{"sku":"` + testdb.SKUBusinessBasic + `"}]}`)
	status, body := ta.do(t, fiber.MethodPost, "/webhooks/orders", noRef, signed(noRef, "dlv-y"))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "missing_order_reference", body["error"])

	var event models.OrderEvent
	require.NoError(t, ta.db.Where("delivery_id = ?", "dlv-y").First(&event).Error)
	assert.True(t, event.IsProcessed())
	assert.NotEmpty(t, event.ProcessingError)
}

func TestOrderWebhookIgnoresOtherEvents(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{OrderSecret: orderSecret})
	payload := []byte(`{"type":"order.refunded","data":{"order":{"reference":"ORD-9","user_id":1}}}`)

	status, body := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, signed(payload, "dlv-r"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["applied"])

	var event models.OrderEvent
	require.NoError(t, ta.db.First(&event).Error)
	assert.Equal(t, "order.refunded", event.EventType)
}

func TestStripeWebhookRequiresSecretAndSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	unconfigured := newTestApp(t, WebhookConfig{})
	status, _ := unconfigured.do(t, fiber.MethodPost, "/webhooks/stripe", payload, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	ta := newTestApp(t, WebhookConfig{StripeSecret: "whsec_test"})
	status, body := ta.do(t, fiber.MethodPost, "/webhooks/stripe", payload, map[string]string{
		HeaderStripe: "t=1,v1=00",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])
}

func TestSubscriptionWithoutPurchase(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{})

	status, body := ta.do(t, fiber.MethodGet, "/me/subscription", nil, userHeader(2))
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "data")
	assert.Nil(t, body["data"])

	status, body = ta.do(t, fiber.MethodGet, "/me/can-post-listing", nil, userHeader(2))
	require.Equal(t, fiber.StatusOK, status)
	answer := data(t, body)
	assert.Equal(t, false, answer["allowed"])
	assert.Equal(t, "no_active_subscription", answer["reason"])

	status, body = ta.do(t, fiber.MethodGet, "/me/featured-credits/history", nil, userHeader(2))
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["data"])
}

func TestConsumeFeaturedCreditEndpoint(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{AllowUnsigned: true})
	payload := orderPayload("ORD-3", testdb.SKUDealerPlus, 1)
	status, _ := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	require.Equal(t, fiber.StatusOK, status)

	consume := []byte(`{"listing_id":"listing-1"}`)
	for i, want := range []struct {
		consumed bool
		balance  float64
	}{{true, 1}, {true, 0}, {false, 0}} {
		status, body := ta.do(t, fiber.MethodPost, "/me/featured-credits/consume", consume, userHeader(1))
		require.Equal(t, fiber.StatusOK, status, "attempt %d", i)
		got := data(t, body)
		assert.Equal(t, want.consumed, got["consumed"], "attempt %d", i)
		assert.Equal(t, want.balance, got["balance"], "attempt %d", i)
	}

	status, body := ta.do(t, fiber.MethodGet, "/me/featured-credits/history", nil, userHeader(1))
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 3)

	tooLong := []byte(`{"listing_id":"` + string(bytes.Repeat([]byte("x"), 40)) + `"}`)
	status, body = ta.do(t, fiber.MethodPost, "/me/featured-credits/consume", tooLong, userHeader(1))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, body = ta.do(t, fiber.MethodPost, "/me/featured-credits/consume", consume, userHeader(2))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, data(t, body)["consumed"])
}

func TestAdminCatalog(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{})

	status, body := ta.do(t, fiber.MethodPost, "/admin/plans",
		[]byte(`{"key":"pro","name":"Pro","price":"29.00","featured_credits_per_period":5}`), nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	plan := data(t, body)
	assert.Equal(t, true, plan["is_active"])
	assert.Equal(t, "monthly", plan["billing_period"])
	planID := plan["id"].(string)

	status, body = ta.do(t, fiber.MethodPost, "/admin/plans",
		[]byte(`{"key":"retired","name":"Retired","is_active":false}`), nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	var retired models.SubscriptionPlan
	require.NoError(t, ta.db.Where(&models.SubscriptionPlan{Key: "retired"}).First(&retired).Error)
	assert.False(t, retired.IsActive)

	status, body = ta.do(t, fiber.MethodPost, "/admin/plans",
		[]byte(`{"key":"broken","name":"Broken","max_active_listings":-1}`), nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, _ = ta.do(t, fiber.MethodPost, "/admin/plans", []byte(`{"name":"No key"}`), nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body = ta.do(t, fiber.MethodPost, "/admin/products",
		[]byte(`{"sku":"SUB-PRO-30","plan_id":"`+planID+`"}`), nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, float64(30), data(t, body)["period_days"])

	status, body = ta.do(t, fiber.MethodPost, "/admin/products",
		[]byte(`{"sku":"SUB-GHOST-30","plan_id":"missing"}`), nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "unknown_plan", body["error"])

	status, body = ta.do(t, fiber.MethodGet, "/admin/plans", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 5)
}

func TestAdminSubscriptionActions(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{AllowUnsigned: true})
	payload := orderPayload("ORD-4", testdb.SKUBusinessBasic, 1)
	status, _ := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body := ta.do(t, fiber.MethodGet, "/admin/subscriptions?status=active&user_id=1", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	list := body["data"].([]interface{})
	require.Len(t, list, 1)
	subID := list[0].(map[string]interface{})["id"].(string)

	status, _ = ta.do(t, fiber.MethodGet, "/admin/subscriptions?status=paused", nil, nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body = ta.do(t, fiber.MethodPost, "/admin/subscriptions/grant-credits",
		[]byte(`{"ids":["`+subID+`"]}`), nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(1), data(t, body)["granted"])

	status, body = ta.do(t, fiber.MethodGet, "/admin/subscriptions/"+subID+"/ledger", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(6), data(t, body)["balance"])

	status, _ = ta.do(t, fiber.MethodPost, "/admin/subscriptions/expire", []byte(`{"ids":[]}`), nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, body = ta.do(t, fiber.MethodPost, "/admin/subscriptions/expire",
		[]byte(`{"ids":["`+subID+`"]}`), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), data(t, body)["expired"])

	status, body = ta.do(t, fiber.MethodPost, "/admin/subscriptions/"+subID+"/cancel", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, body = ta.do(t, fiber.MethodGet, "/admin/processed-orders", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestAdminCancelSubscription(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{AllowUnsigned: true})
	payload := orderPayload("ORD-5", testdb.SKUDealerPlus, 1)
	status, _ := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	require.Equal(t, fiber.StatusOK, status)

	var sub models.UserSubscription
	require.NoError(t, ta.db.First(&sub).Error)

	status, body := ta.do(t, fiber.MethodPost, "/admin/subscriptions/"+sub.ID+"/cancel", nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, models.SubscriptionStatusCancelled, data(t, body)["status"])

	status, body = ta.do(t, fiber.MethodGet, "/me/entitlements", nil, userHeader(1))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, data(t, body)["has_active_subscription"])
}

func TestAdminOrderEventReplay(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{AllowUnsigned: true})

	noUser := []byte(`{"order":{"reference":"ORD-6","user_id":7},"items":[{"sku":"` + testdb.SKUBusinessBasic + `"}]}`)
	status, body := ta.do(t, fiber.MethodPost, "/webhooks/orders", noUser, map[string]string{HeaderDeliveryID: "dlv-late"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["applied"])
	eventID := int(body["event_id"].(float64))

	status, body = ta.do(t, fiber.MethodPut, "/admin/users/7",
		[]byte(`{"name":"late seller","email":"late@example.com"}`), nil)
	require.Equal(t, fiber.StatusOK, status, body)

	status, body = ta.do(t, fiber.MethodPost, "/admin/order-events/"+strconv.Itoa(eventID)+"/replay", nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(1), data(t, body)["applied"])

	status, body = ta.do(t, fiber.MethodGet, "/admin/order-events?source=orders", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, _ = ta.do(t, fiber.MethodPost, "/admin/order-events/999/replay", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = ta.do(t, fiber.MethodPost, "/admin/order-events/abc/replay", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAdminJobsRunInlineWithoutQueue(t *testing.T) {
	ta := newTestApp(t, WebhookConfig{AllowUnsigned: true})
	payload := orderPayload("ORD-7", testdb.SKUBusinessBasic, 1)
	status, _ := ta.do(t, fiber.MethodPost, "/webhooks/orders", payload, nil)
	require.Equal(t, fiber.StatusOK, status)

	// The activation on 2026-02-01 already carries the day's credits.
	status, body := ta.do(t, fiber.MethodPost, "/admin/jobs/grant-credits", []byte(`{"date":"2026-02-01"}`), nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "2026-02-01", data(t, body)["date"])

	status, body = ta.do(t, fiber.MethodPost, "/admin/jobs/grant-credits", []byte(`{"date":"01.02.2026"}`), nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, body = ta.do(t, fiber.MethodPost, "/admin/jobs/expire", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), data(t, body)["expired"])

	status, body = ta.do(t, fiber.MethodGet, "/admin/stats", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, data(t, body))
}
