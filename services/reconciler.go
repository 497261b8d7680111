package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parakkad/fundraiser/models"
	"go.uber.org/zap"
)

// WebhookOutcome is the acknowledgement body sent back to the gateway.
type WebhookOutcome string

const (
	OutcomeSuccess          WebhookOutcome = "success"
	OutcomeFailedRecorded   WebhookOutcome = "failed_recorded"
	OutcomeAlreadyProcessed WebhookOutcome = "already_processed"
	OutcomePaymentNotFound  WebhookOutcome = "payment_not_found"
	OutcomeEventIgnored     WebhookOutcome = "event_ignored"
	OutcomeInternalError    WebhookOutcome = "internal_error"
)

// FailureOutcome is the result of a client failure report.
type FailureOutcome string

const (
	FailureUpdated FailureOutcome = "updated"
	// FailureIgnored means the record had already succeeded and was left alone.
	FailureIgnored FailureOutcome = "ignored"
)

// Gateway webhook event types.
const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookPaymentFailed   = "payment.failed"
)

type CreateOrderRequest struct {
	Quantity int
	Name     string
	Mobile   string
	Ward     string
}

type CreateOrderResult struct {
	Order    *GatewayOrder
	Quantity int
	Payment  *models.Payment
}

type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

type FailureReport struct {
	OrderID   string
	Reason    string
	PaymentID string
}

// WebhookResult describes one processed webhook delivery.
type WebhookResult struct {
	Outcome   WebhookOutcome
	EventType string
	OrderID   string
	PaymentID string
	// Err is set when Outcome is OutcomeInternalError.
	Err error
}

type ReconcilerConfig struct {
	KeySecret     string
	WebhookSecret string
	UnitPrice     int64
	NotifyTimeout time.Duration
}

// Reconciler applies client and gateway events to payment records.
type Reconciler struct {
	store    PaymentStore
	gateway  Gateway
	sink     Broadcaster
	notifier Notifier
	log      *zap.Logger
	cfg      ReconcilerConfig

	notifyWG sync.WaitGroup
	now      func() time.Time
}

func NewReconciler(store PaymentStore, gateway Gateway, sink Broadcaster, notifier Notifier, log *zap.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if sink == nil {
		sink = MultiBroadcaster{}
	}
	return &Reconciler{
		store:    store,
		gateway:  gateway,
		sink:     sink,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateOrder creates the gateway order and stores the matching record.
func (r *Reconciler) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	amount := r.cfg.UnitPrice * int64(req.Quantity)
	receipt := fmt.Sprintf("receipt_%d", r.now().UnixMilli())

	order, err := r.gateway.CreateOrder(ctx, amount*100, receipt)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:  order.ID,
		Amount:   amount,
		Quantity: req.Quantity,
		Name:     req.Name,
		Mobile:   req.Mobile,
		Ward:     req.Ward,
	}
	if err := r.store.Create(ctx, payment); err != nil {
		return nil, err
	}

	r.log.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("amount", amount),
		zap.Int("quantity", req.Quantity),
		zap.String("ward", req.Ward),
	)
	r.sink.Broadcast(EventPaymentCreated, NewPaymentEvent(payment))

	return &CreateOrderResult{Order: order, Quantity: req.Quantity, Payment: payment}, nil
}

// ClientVerify handles the checkout widget's success callback.
func (r *Reconciler) ClientVerify(ctx context.Context, req VerifyRequest) (*models.Payment, error) {
	if r.cfg.KeySecret == "" {
		r.log.Error("Razorpay key secret not configured")
		return nil, ErrSecretNotConfigured
	}
	if !VerifySignature(ClientVerifyMessage(req.OrderID, req.PaymentID), req.Signature, r.cfg.KeySecret) {
		r.log.Warn("Invalid client signature", zap.String("order_id", req.OrderID))
		recordEvent(channelVerify, "invalid_signature")
		return nil, ErrInvalidSignature
	}

	var effect bool
	payment, err := r.store.UpdateByOrderID(ctx, req.OrderID, func(p *models.Payment) (bool, error) {
		var changed bool
		changed, effect = applyClientVerify(p, req.PaymentID)
		return changed, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			recordEvent(channelVerify, "not_found")
		}
		return nil, err
	}

	// a replay still refreshes dashboards but does not notify twice
	r.sink.Broadcast(EventPaymentSuccess, NewPaymentEvent(payment))
	if effect {
		recordEvent(channelVerify, "success")
		r.log.Info("Payment verified", zap.String("order_id", payment.OrderID), zap.String("payment_id", payment.PaymentID))
		r.dispatchNotification(payment)
	} else {
		recordEvent(channelVerify, "replay")
	}
	return payment, nil
}

// applyClientVerify reports whether the record changed and whether this call
// moved it into success.
func applyClientVerify(p *models.Payment, paymentID string) (bool, bool) {
	if p.Status == models.StatusSuccess {
		if p.PaymentID == paymentID {
			return false, false
		}
		p.PaymentID = paymentID
		return true, false
	}
	p.PaymentID = paymentID
	p.Status = models.StatusSuccess
	return true, true
}

// ReportFailure handles a client-side failure hint. It never overrides a
// success.
func (r *Reconciler) ReportFailure(ctx context.Context, report FailureReport) (FailureOutcome, error) {
	var outcome FailureOutcome
	payment, err := r.store.UpdateByOrderID(ctx, report.OrderID, func(p *models.Payment) (bool, error) {
		outcome = applyFailureReport(p, report.PaymentID)
		return outcome == FailureUpdated, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			recordEvent(channelFailure, "not_found")
		}
		return "", err
	}

	recordEvent(channelFailure, string(outcome))
	if outcome == FailureIgnored {
		r.log.Warn("Failure report for settled payment ignored",
			zap.String("order_id", report.OrderID),
			zap.String("reason", report.Reason),
		)
		return outcome, nil
	}

	r.log.Info("Payment marked failed",
		zap.String("order_id", payment.OrderID),
		zap.String("reason", report.Reason),
	)
	r.sink.Broadcast(EventPaymentFailed, NewPaymentEvent(payment))
	return outcome, nil
}

func applyFailureReport(p *models.Payment, paymentID string) FailureOutcome {
	if p.Status == models.StatusSuccess {
		return FailureIgnored
	}
	p.Status = models.StatusFailed
	if paymentID != "" {
		p.PaymentID = paymentID
	}
	return FailureUpdated
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *webhookPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookPaymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
}

// HandleWebhook verifies and applies a gateway webhook delivery. The only
// errors returned are ErrSecretNotConfigured and ErrInvalidSignature; every
// other failure is reported as OutcomeInternalError.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (WebhookResult, error) {
	if r.cfg.WebhookSecret == "" {
		r.log.Error("Razorpay webhook secret not configured")
		return WebhookResult{}, ErrSecretNotConfigured
	}
	if !VerifySignature(rawBody, signature, r.cfg.WebhookSecret) {
		r.log.Warn("Invalid webhook signature received")
		recordEvent(channelWebhook, "invalid_signature")
		return WebhookResult{}, ErrInvalidSignature
	}

	result := r.processWebhook(ctx, rawBody)
	recordEvent(channelWebhook, string(result.Outcome))
	if result.Outcome == OutcomeInternalError {
		webhookInternalErrorsTotal.Inc()
		r.log.Error("Webhook processing error",
			zap.String("event", result.EventType),
			zap.String("order_id", result.OrderID),
			zap.Error(result.Err),
		)
	}
	return result, nil
}

func (r *Reconciler) processWebhook(ctx context.Context, rawBody []byte) WebhookResult {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return WebhookResult{Outcome: OutcomeInternalError, Err: fmt.Errorf("decode webhook: %w", err)}
	}

	result := WebhookResult{EventType: payload.Event}
	if payload.Event != WebhookPaymentCaptured && payload.Event != WebhookPaymentFailed {
		r.log.Info("Unhandled webhook event", zap.String("event", payload.Event))
		result.Outcome = OutcomeEventIgnored
		return result
	}

	if payload.Payload.Payment == nil || payload.Payload.Payment.Entity == nil || payload.Payload.Payment.Entity.OrderID == "" {
		result.Outcome = OutcomeInternalError
		result.Err = errors.New("webhook payload has no payment entity")
		return result
	}
	entity := payload.Payload.Payment.Entity
	result.OrderID = entity.OrderID
	result.PaymentID = entity.ID

	r.log.Info("Webhook received",
		zap.String("event", payload.Event),
		zap.String("order_id", entity.OrderID),
		zap.String("payment_id", entity.ID),
	)

	transition := applyWebhookFailed
	if payload.Event == WebhookPaymentCaptured {
		transition = applyWebhookCaptured
	}

	var (
		outcome WebhookOutcome
		effect  bool
	)
	payment, err := r.store.UpdateByOrderID(ctx, entity.OrderID, func(p *models.Payment) (bool, error) {
		var changed bool
		outcome, changed, effect = transition(p, entity.ID)
		return changed, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			r.log.Warn("Payment record not found for webhook", zap.String("order_id", entity.OrderID))
			result.Outcome = OutcomePaymentNotFound
			return result
		}
		result.Outcome = OutcomeInternalError
		result.Err = err
		return result
	}
	result.Outcome = outcome

	if !effect {
		return result
	}
	switch outcome {
	case OutcomeSuccess:
		r.log.Info("Payment captured", zap.String("order_id", payment.OrderID), zap.String("payment_id", payment.PaymentID))
		r.sink.Broadcast(EventPaymentSuccess, NewPaymentEvent(payment))
		r.dispatchNotification(payment)
	case OutcomeFailedRecorded:
		r.log.Info("Payment failed", zap.String("order_id", payment.OrderID), zap.String("payment_id", payment.PaymentID))
		r.sink.Broadcast(EventPaymentFailed, NewPaymentEvent(payment))
	}
	return result
}

// Webhook transitions return the outcome, whether the record changed and
// whether broadcast and notification should follow.

func applyWebhookCaptured(p *models.Payment, paymentID string) (WebhookOutcome, bool, bool) {
	if p.WebhookProcessed {
		return OutcomeAlreadyProcessed, false, false
	}
	// a client callback may have settled it already; record the webhook only
	settled := p.Status == models.StatusSuccess
	if paymentID != "" {
		p.PaymentID = paymentID
	}
	p.Status = models.StatusSuccess
	p.WebhookProcessed = true
	return OutcomeSuccess, true, !settled
}

func applyWebhookFailed(p *models.Payment, paymentID string) (WebhookOutcome, bool, bool) {
	if p.Status == models.StatusSuccess {
		return OutcomeAlreadyProcessed, false, false
	}
	if p.WebhookProcessed && p.Status == models.StatusFailed {
		return OutcomeAlreadyProcessed, false, false
	}
	if paymentID != "" {
		p.PaymentID = paymentID
	}
	p.Status = models.StatusFailed
	p.WebhookProcessed = true
	return OutcomeFailedRecorded, true, true
}

func (r *Reconciler) dispatchNotification(p *models.Payment) {
	snapshot := *p
	r.notifyWG.Add(1)
	go func() {
		defer r.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.NotifyTimeout)
		defer cancel()

		if err := r.notifier.Notify(ctx, &snapshot); err != nil {
			notifierFailuresTotal.Inc()
			r.log.Warn("Failed to send notification",
				zap.String("order_id", snapshot.OrderID),
				zap.String("mobile", maskMobile(snapshot.Mobile)),
				zap.Error(err),
			)
			return
		}
		r.log.Info("Notification sent", zap.String("order_id", snapshot.OrderID))
	}()
}

// WaitNotifications blocks until in-flight notifications finish.
func (r *Reconciler) WaitNotifications() {
	r.notifyWG.Wait()
}

func maskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return strings.Repeat("*", len(mobile))
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}
