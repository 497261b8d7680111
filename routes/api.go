package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parakkad/fundraiser/middleware"
	"github.com/parakkad/fundraiser/models"
	"github.com/parakkad/fundraiser/services"
	"github.com/parakkad/fundraiser/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	queryTimeout       = 10 * time.Second
	maxWebhookBodySize = 1 << 20
	auditTimeout       = 2 * time.Second

	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

type APIRoutes struct {
	reconciler *services.Reconciler
	stats      *services.StatsService
	webhookLog services.WebhookLog
	hub        *Hub
	publicURL  string
	log        *zap.Logger

	audits sync.WaitGroup
}

func NewAPIRoutes(reconciler *services.Reconciler, stats *services.StatsService, webhookLog services.WebhookLog, hub *Hub, publicURL string, log *zap.Logger) *APIRoutes {
	return &APIRoutes{
		reconciler: reconciler,
		stats:      stats,
		webhookLog: webhookLog,
		hub:        hub,
		publicURL:  publicURL,
		log:        log,
	}
}

// SetupRoutes registers the payment API, the live feed and the health check.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	payment := router.Group("/api/payment")
	{
		payment.POST("/create-order", ar.CreateOrder)
		payment.POST("/verify", ar.VerifyPayment)
		payment.POST("/payment-failed", ar.PaymentFailed)
		payment.POST("/webhook", ar.Webhook)
		payment.GET("/stats", ar.GetStats)
		payment.GET("/history", ar.GetHistory)
		payment.GET("/qrcode", ar.GenerateQRCode)
	}

	if ar.hub != nil {
		router.GET("/ws", ar.hub.Handler)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type createOrderRequest struct {
	Quantity *int   `json:"quantity"`
	Name     string `json:"name" binding:"required"`
	Mobile   string `json:"mobile" binding:"required"`
	Ward     string `json:"ward" binding:"required"`
}

func (ar *APIRoutes) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	res, err := ar.reconciler.CreateOrder(c.Request.Context(), services.CreateOrderRequest{
		Quantity: quantity,
		Name:     req.Name,
		Mobile:   req.Mobile,
		Ward:     req.Ward,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		ar.log.Error("Error creating order", zap.String("request_id", middleware.RequestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error creating order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       res.Order.ID,
		"entity":   res.Order.Entity,
		"amount":   res.Order.Amount,
		"currency": res.Order.Currency,
		"receipt":  res.Order.Receipt,
		"status":   res.Order.Status,
		"quantity": res.Quantity,
	})
}

type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
}

func (ar *APIRoutes) VerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "message": err.Error()})
		return
	}

	payment, err := ar.reconciler.ClientVerify(c.Request.Context(), services.VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success", "payment": payment})
	case errors.Is(err, services.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "message": "Invalid signature"})
	case errors.Is(err, services.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Payment record not found"})
	default:
		ar.log.Error("Error verifying payment", zap.String("request_id", middleware.RequestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal Server Error"})
	}
}

type paymentFailedRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	Reason    string `json:"reason"`
	PaymentID string `json:"payment_id"`
}

func (ar *APIRoutes) PaymentFailed(c *gin.Context) {
	var req paymentFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	outcome, err := ar.reconciler.ReportFailure(c.Request.Context(), services.FailureReport{
		OrderID:   req.OrderID,
		Reason:    req.Reason,
		PaymentID: req.PaymentID,
	})
	switch {
	case err == nil && outcome == services.FailureIgnored:
		c.JSON(http.StatusOK, gin.H{"status": string(outcome), "message": "payment already succeeded"})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
	case errors.Is(err, services.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Payment not found"})
	default:
		ar.log.Error("Error marking payment failed", zap.String("request_id", middleware.RequestID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error"})
	}
}

// Webhook answers 400 only for a bad signature and 500 only for a missing
// secret. Everything else is acknowledged with 200.
func (ar *APIRoutes) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		ar.log.Error("Error reading webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": services.OutcomeInternalError})
		return
	}

	signature := c.GetHeader(signatureHeader)
	result, err := ar.reconciler.HandleWebhook(c.Request.Context(), body, signature)
	switch {
	case errors.Is(err, services.ErrSecretNotConfigured):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook secret not configured"})
		return
	case errors.Is(err, services.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		ar.recordWebhook(c, body, result, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": result.Outcome})
	ar.recordWebhook(c, body, result, true)
}

func (ar *APIRoutes) recordWebhook(c *gin.Context, body []byte, result services.WebhookResult, signatureValid bool) {
	if ar.webhookLog == nil {
		return
	}

	event := &models.WebhookEvent{
		EventID:        c.GetHeader(eventIDHeader),
		EventType:      result.EventType,
		OrderID:        result.OrderID,
		PaymentID:      result.PaymentID,
		SignatureValid: signatureValid,
		Outcome:        string(result.Outcome),
	}
	if !signatureValid {
		event.Outcome = "invalid_signature"
	}
	if json.Valid(body) {
		event.Payload = datatypes.JSON(body)
	}
	if result.Err != nil {
		event.ProcessingError = result.Err.Error()
	}

	// written after the handler returns; failures are only logged
	parent := context.WithoutCancel(c.Request.Context())
	ar.audits.Add(1)
	go func() {
		defer ar.audits.Done()
		ctx, cancel := context.WithTimeout(parent, auditTimeout)
		defer cancel()
		if err := ar.webhookLog.Record(ctx, event); err != nil {
			ar.log.Warn("Failed to record webhook event", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}()
}

// WaitAudits blocks until queued webhook log writes have finished.
func (ar *APIRoutes) WaitAudits() {
	ar.audits.Wait()
}

func (ar *APIRoutes) GetStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	totals, err := ar.stats.ComputeTotals(ctx)
	if err != nil {
		ar.log.Error("Error fetching stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching stats"})
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (ar *APIRoutes) GetHistory(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = services.DefaultHistoryPage
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = services.DefaultHistoryPageSize
	}

	res, err := ar.stats.ListHistory(ctx, services.HistoryQuery{
		Page:     page,
		PageSize: limit,
		Ward:     c.Query("ward"),
	})
	if err != nil {
		ar.log.Error("Error fetching history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching history"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GenerateQRCode renders a PNG QR code for the donation page.
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	target := ar.publicURL
	if target == "" {
		target = "http://" + c.Request.Host + "/"
	}

	qrBytes, err := utils.GenerateQRCode(target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", qrBytes)
}
