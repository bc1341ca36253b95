package router

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/config"
	"github.com/ManuelReschke/marketsub/internal/pkg/middleware"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
	"github.com/ManuelReschke/marketsub/internal/pkg/testdb"
)

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	db := testdb.New(t)
	testdb.SeedCatalog(t, db)
	testdb.SeedUser(t, db, 5)

	subs := subscriptions.NewServiceFromDB(db)
	app := fiber.New()
	InstallRouter(app, Deps{
		Config: config.Config{
			AppEnv:      "prod",
			AdminAPIKey: "admin-key",
			JWTSecret:   "jwt-secret",
		},
		Subscriptions: subs,
		Events:        billing.NewHandlerFromDB(db, subs, nil),
	})
	return app
}

func status(t *testing.T, app *fiber.App, method, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestPublicRoutes(t *testing.T) {
	app := newApp(t)
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/api/v1/plans", nil))
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/api/v1/products", nil))
}

func TestUserRoutesRequireToken(t *testing.T) {
	app := newApp(t)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, fiber.MethodGet, "/api/v1/me/entitlements", nil))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 5,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	auth := map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/api/v1/me/entitlements", auth))
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/api/v1/me/subscription", auth))
}

func TestAdminRoutesRequireKey(t *testing.T) {
	app := newApp(t)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, fiber.MethodGet, "/admin/subscriptions", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, fiber.MethodGet, "/admin/subscriptions",
		map[string]string{middleware.AdminKeyHeader: "wrong"}))

	key := map[string]string{middleware.AdminKeyHeader: "admin-key"}
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/admin/subscriptions", key))
	assert.Equal(t, fiber.StatusOK, status(t, app, fiber.MethodGet, "/admin/stats", key))
}

func TestUnsignedWebhooksRejectedOutsideDev(t *testing.T) {
	app := newApp(t)
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/webhooks/orders", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	// Empty body is not JSON.
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, fiber.StatusServiceUnavailable, status(t, app, fiber.MethodPost, "/api/v1/webhooks/stripe", nil))
}
