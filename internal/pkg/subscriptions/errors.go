package subscriptions

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrMissingOrderReference      = errors.New("order carries no usable reference")
	ErrOrderAlreadyProcessed      = errors.New("order reference already processed")
	ErrActiveSubscriptionConflict = errors.New("user already holds an active subscription")
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	ErrPlanNotFound               = errors.New("plan not found")
)

// isUniqueViolation recognises unique-constraint failures across the
// supported drivers, with or without gorm error translation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "sqlstate 23505")
}
