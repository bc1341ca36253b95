package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

const requestTimeout = 15 * time.Second

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var validate = validator.New()

// requestContext bounds the work done for one request.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

func jsonData(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{"data": data})
}

var errInvalidBody = errors.New("request body is not valid JSON")

// parseBody decodes the JSON body into out and validates it. An empty body
// leaves out at its defaults.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(out); err != nil {
			return errInvalidBody
		}
	}
	return validate.Struct(out)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// listLimit reads ?limit= clamped to maxListLimit.
func listLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// respondError maps domain errors onto HTTP answers.
func respondError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	case errors.Is(err, models.ErrNegativeListingCap), errors.Is(err, models.ErrNegativePrice):
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, subscriptions.ErrMissingOrderReference):
		return jsonError(c, fiber.StatusUnprocessableEntity, "missing_order_reference", err.Error())
	case errors.Is(err, subscriptions.ErrPlanNotFound):
		return jsonError(c, fiber.StatusUnprocessableEntity, "unknown_plan", err.Error())
	case errors.Is(err, subscriptions.ErrSubscriptionNotFound), errors.Is(err, billing.ErrEventNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, subscriptions.ErrActiveSubscriptionConflict),
		errors.Is(err, subscriptions.ErrOrderAlreadyProcessed),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return jsonError(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, errInvalidBody):
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	case errors.Is(err, billing.ErrInvalidPayload):
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonError(c, fiber.StatusGatewayTimeout, "timeout", "request timed out")
	}
	log.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}
