package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parakkad/fundraiser/models"
)

// Notifier sends the thank-you message after a successful payment.
type Notifier interface {
	Notify(ctx context.Context, p *models.Payment) error
}

// NoopNotifier is used when no notification endpoint is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *models.Payment) error { return nil }

// WhatsAppNotifier calls the WhatsApp relay with the contributor's details.
type WhatsAppNotifier struct {
	endpoint   string
	caption    string
	httpClient *http.Client
}

func NewWhatsAppNotifier(endpoint, caption string, timeout time.Duration) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		endpoint: endpoint,
		caption:  caption,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

func (n *WhatsAppNotifier) Notify(ctx context.Context, p *models.Payment) error {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return fmt.Errorf("parse notifier url: %w", err)
	}

	q := u.Query()
	q.Set("name", p.Name)
	q.Set("quantity", strconv.Itoa(p.Quantity))
	q.Set("amount", strconv.FormatInt(p.Amount, 10))
	q.Set("mobile", "91"+p.Mobile)
	q.Set("caption", n.caption)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build notifier request: %w", err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: %s", resp.Status)
	}
	return nil
}
