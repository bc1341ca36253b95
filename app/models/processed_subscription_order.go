package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrProcessedOrderImmutable = errors.New("processed orders are append-only")

// ProcessedSubscriptionOrder marks an order reference as handled. Its
// existence alone decides whether a redelivered order is ignored.
type ProcessedSubscriptionOrder struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderReference string            `gorm:"type:varchar(191);not null;uniqueIndex" json:"order_reference"`
	UserID         uint              `gorm:"not null;index" json:"user_id"`
	User           *User             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	PlanID         string            `gorm:"type:varchar(36);not null;index" json:"plan_id"`
	Plan           *SubscriptionPlan `gorm:"foreignKey:PlanID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	ProcessedAt    time.Time         `gorm:"not null;index" json:"processed_at"`
}

func (o *ProcessedSubscriptionOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

func (o *ProcessedSubscriptionOrder) BeforeUpdate(tx *gorm.DB) error {
	return ErrProcessedOrderImmutable
}

func (o *ProcessedSubscriptionOrder) BeforeDelete(tx *gorm.DB) error {
	return ErrProcessedOrderImmutable
}
