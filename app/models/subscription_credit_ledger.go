package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const CreditTypeFeatured = "featured"

const (
	CreditReasonActivationGrant = "activation_grant"
	CreditReasonMonthlyGrant    = "monthly_grant"
	CreditReasonAdminGrant      = "admin_grant"
	CreditReasonConsume         = "consume"
)

var ErrLedgerImmutable = errors.New("credit ledger entries are append-only")

// SubscriptionCreditLedger is one signed movement of credits. The balance of
// a subscription is the sum of its entries; rows are never changed.
type SubscriptionCreditLedger struct {
	ID                    string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                uint              `gorm:"not null;index" json:"user_id"`
	User                  *User             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	SubscriptionID        string            `gorm:"type:varchar(36);not null;index:idx_credit_ledger_sub_type,priority:1" json:"subscription_id"`
	Subscription          *UserSubscription `gorm:"constraint:OnUpdate:CASCADE,OnDelete:NO ACTION" json:"-"`
	CreditType            string            `gorm:"type:varchar(32);not null;default:'featured';index:idx_credit_ledger_sub_type,priority:2" json:"credit_type"`
	Change                int               `gorm:"column:credit_change;not null" json:"change"`
	Reason                string            `gorm:"type:varchar(64);not null;index" json:"reason"`
	// Order reference for activation grants, "monthly_grant:<date>" for
	// monthly grants.
	RelatedOrderReference *string           `gorm:"type:varchar(191);default:null" json:"related_order_reference,omitempty"`
	RelatedListingID      *string           `gorm:"type:varchar(36);default:null" json:"related_listing_id,omitempty"`
	CreatedAt             time.Time         `gorm:"index" json:"created_at"`
}

func (SubscriptionCreditLedger) TableName() string {
	return "subscription_credit_ledger"
}

func (e *SubscriptionCreditLedger) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *SubscriptionCreditLedger) BeforeUpdate(tx *gorm.DB) error {
	return ErrLedgerImmutable
}

func (e *SubscriptionCreditLedger) BeforeDelete(tx *gorm.DB) error {
	return ErrLedgerImmutable
}
