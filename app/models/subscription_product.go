package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionProduct is the sellable SKU that activates a plan for
// PeriodDays days when an order containing it is paid.
type SubscriptionProduct struct {
	ID         string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	SKU        string           `gorm:"column:sku;type:varchar(100);not null;uniqueIndex" json:"sku" validate:"required,max=100"`
	PlanID     string           `gorm:"type:varchar(36);not null;index" json:"plan_id" validate:"required"`
	Plan       SubscriptionPlan `gorm:"foreignKey:PlanID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"plan" validate:"-"`
	PeriodDays int              `gorm:"not null;default:30" json:"period_days" validate:"gt=0"`
	IsActive   bool             `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionProduct) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *SubscriptionProduct) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// PeriodLength returns the paid period as a duration.
func (p *SubscriptionProduct) PeriodLength() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}
