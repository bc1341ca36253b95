package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// UserSubscription is one paid period chain of a user on a plan.
//
// ActiveUserID mirrors UserID while Status is active and is NULL otherwise.
// Its unique index is what keeps a user from holding two active rows; every
// status change away from active must clear it.
type UserSubscription struct {
	ID                     string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                 uint             `gorm:"not null;index:idx_user_subscriptions_user_status,priority:1" json:"user_id"`
	User                   *User            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	ActiveUserID           *uint            `gorm:"uniqueIndex:ux_user_subscriptions_active_user" json:"-"`
	PlanID                 string           `gorm:"type:varchar(36);not null;index" json:"plan_id"`
	Plan                   SubscriptionPlan `gorm:"foreignKey:PlanID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"plan"`
	Status                 string           `gorm:"type:varchar(16);not null;default:'active';index:idx_user_subscriptions_user_status,priority:2" json:"status"`
	StartedAt              time.Time        `gorm:"not null" json:"started_at"`
	CurrentPeriodStart     time.Time        `gorm:"not null;index" json:"current_period_start"`
	CurrentPeriodEnd       time.Time        `gorm:"not null;index" json:"current_period_end"`
	CancelledAt            *time.Time       `gorm:"default:null" json:"cancelled_at,omitempty"`
	LastPaidOrderReference string           `gorm:"type:varchar(191);index" json:"last_paid_order_reference"`
	CreatedAt              time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *UserSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == SubscriptionStatusActive && s.ActiveUserID == nil {
		userID := s.UserID
		s.ActiveUserID = &userID
	}
	return nil
}

// IsActiveAt reports whether the subscription entitles its user at t.
func (s *UserSubscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.CurrentPeriodEnd.After(t)
}

// MarkExpired flips status only. The period fields stay untouched so the
// history of what was paid for is preserved.
func (s *UserSubscription) MarkExpired() {
	s.Status = SubscriptionStatusExpired
	s.ActiveUserID = nil
}

// MarkCancelled is terminal and records when it happened.
func (s *UserSubscription) MarkCancelled(at time.Time) {
	s.Status = SubscriptionStatusCancelled
	s.ActiveUserID = nil
	s.CancelledAt = &at
}

// Extend chains a new paid period onto the end of the current one, so an
// early renewal never loses remaining days.
func (s *UserSubscription) Extend(period time.Duration, orderReference string) {
	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = s.CurrentPeriodEnd.Add(period)
	s.LastPaidOrderReference = orderReference
}
