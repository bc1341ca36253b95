package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderEventSourceGeneric = "orders"
	OrderEventSourceStripe  = "stripe"
)

// OrderEvent stores inbound order-paid deliveries with deduplication
// metadata so redeliveries of the same webhook are answered without work.
type OrderEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Source          string         `gorm:"type:varchar(20);not null;index:ux_order_events_source_delivery,unique,priority:1;index" json:"source"`
	DeliveryID      string         `gorm:"type:varchar(191);not null;default:'';index:ux_order_events_source_delivery,unique,priority:2" json:"delivery_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `json:"payload"`
	SignatureValid  bool           `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time     `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProcessed reports whether a processing attempt has completed.
func (e *OrderEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
