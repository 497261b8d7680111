package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records one gateway webhook delivery and what we did with it.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	EventID         string         `gorm:"size:64;index" json:"event_id"` // X-Razorpay-Event-Id
	EventType       string         `gorm:"size:64;index" json:"event_type"`
	OrderID         string         `gorm:"size:64;index" json:"order_id"`
	PaymentID       string         `gorm:"size:64" json:"payment_id"`
	Payload         datatypes.JSON `json:"payload"`
	SignatureValid  bool           `gorm:"index" json:"signature_valid"`
	Outcome         string         `gorm:"size:32;index" json:"outcome"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
}
