package models

import (
	"time"
)

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	StatusCreated PaymentStatus = "created"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

// PendingPaymentID is stored until the gateway reports a payment attempt.
const PendingPaymentID = "pending"

// Payment is one order attempt for the fundraiser.
type Payment struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	OrderID          string        `gorm:"size:64;uniqueIndex" json:"orderId"`
	PaymentID        string        `gorm:"size:64" json:"paymentId"`
	Status           PaymentStatus `gorm:"size:20;index" json:"status"`
	Amount           int64         `json:"amount"`
	Quantity         int           `json:"quantity"`
	Name             string        `gorm:"size:100" json:"name"`
	Mobile           string        `gorm:"size:20" json:"mobile"`
	Ward             string        `gorm:"size:100;index" json:"ward"`
	WebhookProcessed bool          `gorm:"default:false" json:"webhookProcessed"`
	CreatedAt        time.Time     `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// HistoryItem is the public projection of a successful payment.
// It has no mobile or order id.
type HistoryItem struct {
	ID        uint          `json:"id"`
	Name      string        `json:"name"`
	Ward      string        `json:"ward"`
	Amount    int64         `json:"amount"`
	Quantity  int           `json:"quantity"`
	PaymentID string        `json:"paymentId"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ToHistoryItem copies the public fields of p.
func (p *Payment) ToHistoryItem() HistoryItem {
	return HistoryItem{
		ID:        p.ID,
		Name:      p.Name,
		Ward:      p.Ward,
		Amount:    p.Amount,
		Quantity:  p.Quantity,
		PaymentID: p.PaymentID,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}
