package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
)

const defaultNotificationTimeout = 10 * time.Second

// NotificationServiceDeps wires the transactional email sender.
type NotificationServiceDeps struct {
	Endpoint   string
	AuthToken  string
	FromName   string
	HTTPClient *http.Client
	Logger     func(context.Context, string, map[string]any)
}

type notificationService struct {
	endpoint  string
	authToken string
	fromName  string
	client    *http.Client
	logger    func(context.Context, string, map[string]any)
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService constructs a NotificationService posting order
// confirmations to the configured email endpoint. Delivery is best effort:
// failures are logged, never surfaced to the checkout flow.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	endpoint := strings.TrimSpace(deps.Endpoint)
	if endpoint == "" {
		return nil, errors.New("notification service: endpoint is required")
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultNotificationTimeout}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(deps.AuthToken),
		fromName:  strings.TrimSpace(deps.FromName),
		client:    client,
		logger:    logger,
	}, nil
}

type orderConfirmationPayload struct {
	To       string             `json:"to"`
	FromName string             `json:"fromName,omitempty"`
	Template string             `json:"template"`
	OrderID  string             `json:"orderId"`
	Amount   int64              `json:"amount"`
	Currency string             `json:"currency"`
	Items    []confirmationLine `json:"items"`
	PaidAt   time.Time          `json:"paidAt"`
}

type confirmationLine struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

func (s *notificationService) SendOrderConfirmation(ctx context.Context, order domain.Order) {
	if s == nil || order.Shipping.Email == "" {
		return
	}

	lines := make([]confirmationLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, confirmationLine{
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}

	paidAt := order.UpdatedAt
	if order.Payment != nil && !order.Payment.VerifiedAt.IsZero() {
		paidAt = order.Payment.VerifiedAt
	}

	body, err := json.Marshal(orderConfirmationPayload{
		To:       order.Shipping.Email,
		FromName: s.fromName,
		Template: "order-confirmation",
		OrderID:  order.ID,
		Amount:   order.Summary.Total,
		Currency: order.Currency,
		Items:    lines,
		PaidAt:   paidAt,
	})
	if err != nil {
		s.logger(ctx, "notifications.encode_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger(ctx, "notifications.request_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger(ctx, "notifications.send_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger(ctx, "notifications.send_rejected", map[string]any{
			"orderId": order.ID,
			"status":  resp.StatusCode,
		})
		return
	}

	s.logger(ctx, "notifications.order_confirmation_sent", map[string]any{
		"orderId": order.ID,
		"to":      order.Shipping.Email,
	})
}
