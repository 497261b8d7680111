package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/parakkad/fundraiser/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentStore persists payment records keyed by gateway order id.
type PaymentStore interface {
	// Create stores a new record in the created state.
	Create(ctx context.Context, p *models.Payment) error
	// FindByOrderID returns ErrPaymentNotFound when no record exists.
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	// Save writes the full current state of p.
	Save(ctx context.Context, p *models.Payment) error
	// UpdateByOrderID loads the record, passes it to fn and saves it if fn
	// reports a change. Concurrent calls for one order id are serialized.
	UpdateByOrderID(ctx context.Context, orderID string, fn func(p *models.Payment) (bool, error)) (*models.Payment, error)
}

// StatsSource is the read side used by the stats service.
type StatsSource interface {
	SuccessTotals(ctx context.Context) (amount int64, quantity int64, err error)
	SuccessWardTotals(ctx context.Context) (map[string]int64, error)
	SuccessHistory(ctx context.Context, ward string, offset, limit int) ([]models.HistoryItem, int64, error)
}

const lockStripes = 64

// GormPaymentStore implements PaymentStore and StatsSource on gorm.
type GormPaymentStore struct {
	db    *gorm.DB
	locks [lockStripes]sync.Mutex
}

func NewGormPaymentStore(db *gorm.DB) *GormPaymentStore {
	return &GormPaymentStore{db: db}
}

func (s *GormPaymentStore) lockOrder(orderID string) func() {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *GormPaymentStore) Create(ctx context.Context, p *models.Payment) error {
	p.Status = models.StatusCreated
	p.PaymentID = models.PendingPaymentID
	p.WebhookProcessed = false

	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment %s: %w", p.OrderID, err)
	}
	return nil
}

func (s *GormPaymentStore) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment %s: %w", orderID, err)
	}
	return &p, nil
}

func (s *GormPaymentStore) Save(ctx context.Context, p *models.Payment) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save payment %s: %w", p.OrderID, err)
	}
	return nil
}

func (s *GormPaymentStore) UpdateByOrderID(ctx context.Context, orderID string, fn func(p *models.Payment) (bool, error)) (*models.Payment, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	var result models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		// sqlite has no row locks; the stripe lock covers it
		if tx.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var p models.Payment
		if err := query.Where("order_id = ?", orderID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		changed, err := fn(&p)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
		}
		result = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update payment %s: %w", orderID, err)
	}
	return &result, nil
}

func (s *GormPaymentStore) SuccessTotals(ctx context.Context) (int64, int64, error) {
	var row struct {
		TotalAmount int64
		TotalCount  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total_amount, COALESCE(SUM(quantity), 0) AS total_count").
		Where("status = ?", models.StatusSuccess).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("sum payments: %w", err)
	}
	return row.TotalAmount, row.TotalCount, nil
}

func (s *GormPaymentStore) SuccessWardTotals(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Ward  string
		Total int64
	}
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("ward, COALESCE(SUM(quantity), 0) AS total").
		Where("status = ?", models.StatusSuccess).
		Group("ward").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum payments by ward: %w", err)
	}

	wards := make(map[string]int64, len(rows))
	for _, r := range rows {
		wards[r.Ward] = r.Total
	}
	return wards, nil
}

func (s *GormPaymentStore) SuccessHistory(ctx context.Context, ward string, offset, limit int) ([]models.HistoryItem, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payment{}).Where("status = ?", models.StatusSuccess)
	if ward != "" {
		query = query.Where("ward = ?", ward)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	items := []models.HistoryItem{}
	err := query.Session(&gorm.Session{}).
		Select("id, name, ward, amount, quantity, payment_id, status, created_at").
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	return items, total, nil
}
