package services

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// GatewayOrder is the subset of the gateway's order object the checkout
// widget needs.
type GatewayOrder struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway creates orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, receipt string) (*GatewayOrder, error)
}

// RazorpayGateway creates orders through the Razorpay Orders API.
type RazorpayGateway struct {
	client   *razorpay.Client
	currency string
}

func NewRazorpayGateway(keyID, keySecret, currency string) *RazorpayGateway {
	return &RazorpayGateway{
		client:   razorpay.NewClient(keyID, keySecret),
		currency: currency,
	}
}

// CreateOrder is a single call; failures are returned to the caller as is.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountPaise int64, receipt string) (*GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":   amountPaise,
		"currency": g.currency,
		"receipt":  receipt,
	}

	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}

	order := &GatewayOrder{
		Currency: g.currency,
		Receipt:  receipt,
		Amount:   amountPaise,
	}
	order.ID, _ = body["id"].(string)
	order.Entity, _ = body["entity"].(string)
	order.Status, _ = body["status"].(string)
	if v, ok := body["amount"].(float64); ok {
		order.Amount = int64(v)
	}
	if v, ok := body["currency"].(string); ok && v != "" {
		order.Currency = v
	}

	if order.ID == "" {
		return nil, fmt.Errorf("razorpay create order: response has no id")
	}
	return order, nil
}
