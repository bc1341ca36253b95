package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

var (
	ErrNegativeListingCap = errors.New("max_active_listings must be zero or greater")
	ErrNegativePrice      = errors.New("price must be zero or greater")
)

// SubscriptionPlan is a purchasable tier with its entitlements.
// A nil MaxActiveListings means unlimited listings.
type SubscriptionPlan struct {
	ID                       string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Key                      string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"key" validate:"required,max=64"`
	Name                     string          `gorm:"type:varchar(120);not null" json:"name" validate:"required,max=120"`
	Description              string          `gorm:"type:text" json:"description"`
	Price                    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	BillingPeriod            string          `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_period" validate:"oneof=monthly yearly"`
	IsActive                 bool            `gorm:"default:true;index" json:"is_active"`
	MaxActiveListings        *int            `gorm:"default:null" json:"max_active_listings"`
	FeaturedCreditsPerPeriod int             `gorm:"not null;default:0" json:"featured_credits_per_period" validate:"gte=0"`
	BadgeLabel               string          `gorm:"type:varchar(60)" json:"badge_label" validate:"max=60"`
	PrioritySupport          bool            `gorm:"default:false" json:"priority_support"`
	CanAddMultipleStaff      bool            `gorm:"default:false" json:"can_add_multiple_staff"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Validate checks the plan before it is persisted.
func (p *SubscriptionPlan) Validate() error {
	if p.MaxActiveListings != nil && *p.MaxActiveListings < 0 {
		return ErrNegativeListingCap
	}
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	v := validator.New()

	return v.Struct(p)
}

// HasUnlimitedListings reports whether the plan carries no listing cap.
func (p *SubscriptionPlan) HasUnlimitedListings() bool {
	return p.MaxActiveListings == nil
}
