package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/parakkad/fundraiser/models"
	"go.uber.org/zap"
)

// Broadcast event names.
const (
	EventPaymentCreated = "payment_created"
	EventPaymentSuccess = "payment_success"
	EventPaymentFailed  = "payment_failed"
)

// EventPayment is the record as seen by live dashboards: no mobile number.
type EventPayment struct {
	models.HistoryItem
	OrderID string `json:"orderId"`
}

// PaymentEvent is the body of every broadcast.
type PaymentEvent struct {
	Amount   int64        `json:"amount"`
	Ward     string       `json:"ward"`
	Quantity int          `json:"quantity"`
	Payment  EventPayment `json:"payment"`
}

// NewPaymentEvent builds the broadcast body for p.
func NewPaymentEvent(p *models.Payment) PaymentEvent {
	return PaymentEvent{
		Amount:   p.Amount,
		Ward:     p.Ward,
		Quantity: p.Quantity,
		Payment: EventPayment{
			HistoryItem: p.ToHistoryItem(),
			OrderID:     p.OrderID,
		},
	}
}

// Broadcaster is told about every state transition. Implementations must
// not block the caller.
type Broadcaster interface {
	Broadcast(event string, data PaymentEvent)
}

// MultiBroadcaster fans one event out to several sinks.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(event string, data PaymentEvent) {
	for _, b := range m {
		b.Broadcast(event, data)
	}
}

const invalidateTimeout = 500 * time.Millisecond

// StatsInvalidator drops cached totals whenever a payment settles. Broadcast
// only queues the request; Run performs it. Requests that arrive while one is
// still queued are merged into it.
type StatsInvalidator struct {
	cache   StatsCache
	log     *zap.Logger
	pending chan string
}

func NewStatsInvalidator(cache StatsCache, log *zap.Logger) *StatsInvalidator {
	return &StatsInvalidator{cache: cache, log: log, pending: make(chan string, 1)}
}

func (s *StatsInvalidator) Broadcast(event string, data PaymentEvent) {
	if event == EventPaymentCreated {
		return
	}
	select {
	case s.pending <- data.Payment.OrderID:
	default:
	}
}

// Run invalidates the cache for queued requests until ctx is cancelled.
func (s *StatsInvalidator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-s.pending:
			s.invalidate(ctx, orderID)
		}
	}
}

func (s *StatsInvalidator) invalidate(ctx context.Context, orderID string) {
	ctx, cancel := context.WithTimeout(ctx, invalidateTimeout)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("Failed to invalidate stats cache",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

type kafkaEnvelope struct {
	Event     string       `json:"event"`
	Data      PaymentEvent `json:"data"`
	Timestamp int64        `json:"timestamp"`
}

// KafkaBroadcaster publishes payment events to a Kafka topic keyed by order id.
type KafkaBroadcaster struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger
	done     chan struct{}
}

func NewKafkaBroadcaster(brokers []string, topic string, log *zap.Logger) (*KafkaBroadcaster, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	log.Info("Kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return newKafkaBroadcaster(producer, topic, log), nil
}

func newKafkaBroadcaster(producer sarama.AsyncProducer, topic string, log *zap.Logger) *KafkaBroadcaster {
	k := &KafkaBroadcaster{
		producer: producer,
		topic:    topic,
		log:      log,
		done:     make(chan struct{}),
	}
	go k.drainErrors()
	return k
}

func (k *KafkaBroadcaster) drainErrors() {
	defer close(k.done)
	for err := range k.producer.Errors() {
		k.log.Error("Failed to publish payment event", zap.String("topic", k.topic), zap.Error(err.Err))
	}
}

func (k *KafkaBroadcaster) Broadcast(event string, data PaymentEvent) {
	value, err := json.Marshal(kafkaEnvelope{Event: event, Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		k.log.Error("Failed to marshal payment event", zap.String("event", event), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(data.Payment.OrderID),
		Value: sarama.ByteEncoder(value),
	}

	select {
	case k.producer.Input() <- msg:
	default:
		k.log.Warn("Kafka input full, dropping payment event",
			zap.String("event", event),
			zap.String("order_id", data.Payment.OrderID),
		)
	}
}

// Close flushes buffered messages and stops the producer.
func (k *KafkaBroadcaster) Close() {
	k.producer.AsyncClose()
	<-k.done
}
