package services

import (
	"context"
	"fmt"

	"github.com/parakkad/fundraiser/models"
	"gorm.io/gorm"
)

// WebhookLog keeps an audit row per webhook delivery.
type WebhookLog interface {
	Record(ctx context.Context, e *models.WebhookEvent) error
}

type GormWebhookLog struct {
	db *gorm.DB
}

func NewGormWebhookLog(db *gorm.DB) *GormWebhookLog {
	return &GormWebhookLog{db: db}
}

func (l *GormWebhookLog) Record(ctx context.Context, e *models.WebhookEvent) error {
	if err := l.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("record webhook event %s: %w", e.EventID, err)
	}
	return nil
}
