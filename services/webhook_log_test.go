package services

import (
	"context"
	"testing"

	"github.com/parakkad/fundraiser/models"
	"gorm.io/datatypes"
)

func TestGormWebhookLog_Record(t *testing.T) {
	db := newTestDB(t)
	log := NewGormWebhookLog(db)
	ctx := context.Background()

	for i, outcome := range []WebhookOutcome{OutcomeSuccess, OutcomeAlreadyProcessed} {
		err := log.Record(ctx, &models.WebhookEvent{
			EventID:        "evt_" + string(rune('a'+i)),
			EventType:      WebhookPaymentCaptured,
			OrderID:        "order_1",
			PaymentID:      "pay_1",
			Payload:        datatypes.JSON(webhookBody(WebhookPaymentCaptured, "order_1", "pay_1")),
			SignatureValid: true,
			Outcome:        string(outcome),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	var events []models.WebhookEvent
	if err := db.Where("order_id = ?", "order_1").Order("id DESC").Find(&events).Error; err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Outcome != string(OutcomeAlreadyProcessed) || events[0].EventID != "evt_b" {
		t.Errorf("Expected newest delivery first, got %+v", events[0])
	}
}
