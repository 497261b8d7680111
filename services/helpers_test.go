package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parakkad/fundraiser/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "webhook_secret_test"
	testUnitPrice     = 350
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "payments.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.Payment{}, &models.WebhookEvent{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

type recordedEvent struct {
	Name string
	Data PaymentEvent
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) Broadcast(event string, data PaymentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Name: event, Data: data})
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Name == event {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls []models.Payment
	err   error
}

func (n *countingNotifier) Notify(_ context.Context, p *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, *p)
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeGateway struct {
	mu       sync.Mutex
	next     int
	err      error
	amounts  []int64
	receipts []string
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountPaise int64, receipt string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.next++
	g.amounts = append(g.amounts, amountPaise)
	g.receipts = append(g.receipts, receipt)
	return &GatewayOrder{
		ID:       fmt.Sprintf("order_test_%d", g.next),
		Entity:   "order",
		Amount:   amountPaise,
		Currency: "INR",
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

var errStoreDown = errors.New("store unavailable")

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Create(context.Context, *models.Payment) error { return errStoreDown }

func (failingStore) FindByOrderID(context.Context, string) (*models.Payment, error) {
	return nil, errStoreDown
}

func (failingStore) Save(context.Context, *models.Payment) error { return errStoreDown }

func (failingStore) UpdateByOrderID(context.Context, string, func(*models.Payment) (bool, error)) (*models.Payment, error) {
	return nil, errStoreDown
}

type testEnv struct {
	db       *gorm.DB
	store    *GormPaymentStore
	gateway  *fakeGateway
	sink     *recordingBroadcaster
	notifier *countingNotifier
	rec      *Reconciler
	stats    *StatsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	env := &testEnv{
		db:       db,
		store:    NewGormPaymentStore(db),
		gateway:  &fakeGateway{},
		sink:     &recordingBroadcaster{},
		notifier: &countingNotifier{},
	}
	log := newTestLogger(t)
	env.rec = NewReconciler(env.store, env.gateway, env.sink, env.notifier, log, ReconcilerConfig{
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		UnitPrice:     testUnitPrice,
	})
	env.stats = NewStatsService(env.store, nil, log)
	t.Cleanup(env.rec.WaitNotifications)
	return env
}

// useCache rebuilds the engine and stats service around cache, with a running
// invalidator wired in as a sink.
func (e *testEnv) useCache(t *testing.T, cache StatsCache) {
	t.Helper()
	log := newTestLogger(t)
	invalidator := startInvalidator(t, cache, log)
	e.rec = NewReconciler(e.store, e.gateway, MultiBroadcaster{e.sink, invalidator}, e.notifier, log, ReconcilerConfig{
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		UnitPrice:     testUnitPrice,
	})
	e.stats = NewStatsService(e.store, cache, log)
	t.Cleanup(e.rec.WaitNotifications)
}

func startInvalidator(t *testing.T, cache StatsCache, log *zap.Logger) *StatsInvalidator {
	t.Helper()
	invalidator := NewStatsInvalidator(cache, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		invalidator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return invalidator
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) createOrder(t *testing.T, quantity int, name, mobile, ward string) *models.Payment {
	t.Helper()
	res, err := e.rec.CreateOrder(context.Background(), CreateOrderRequest{
		Quantity: quantity,
		Name:     name,
		Mobile:   mobile,
		Ward:     ward,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return res.Payment
}

func (e *testEnv) load(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	p, err := e.store.FindByOrderID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("FindByOrderID(%s) failed: %v", orderID, err)
	}
	return p
}

func webhookBody(event, orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"entity":"event","event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured"}}},"created_at":1700000000}`,
		event, paymentID, orderID,
	))
}
