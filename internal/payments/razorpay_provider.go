package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalamkaar/api/internal/platform/textutil"
)

const (
	defaultRazorpayBaseURL = "https://api.razorpay.com/v1"
	defaultRazorpayTimeout = 15 * time.Second
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        RazorpayLogger
	Clock         func() time.Time
}

// RazorpayProvider implements the Provider interface against the Razorpay Orders API.
type RazorpayProvider struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	clock         func() time.Time
	logger        RazorpayLogger
}

var _ Provider = (*RazorpayProvider)(nil)

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("razorpay: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRazorpayTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		httpClient:    httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type razorpayOrderResponse struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

type razorpayPaymentResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	Email     string `json:"email"`
	Contact   string `json:"contact"`
	Captured  bool   `json:"captured"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a Razorpay order for the client-side payment handshake.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	payload := map[string]any{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		payload["receipt"] = receipt
	}
	if notes := textutil.NormalizeStringMap(req.Notes); len(notes) > 0 {
		payload["notes"] = notes
	}

	var resp razorpayOrderResponse
	raw, err := p.do(ctx, http.MethodPost, "/orders", payload, req.IdempotencyKey, &resp)
	if err != nil {
		return GatewayOrder{}, err
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"orderId":  resp.ID,
		"amount":   resp.Amount,
		"currency": resp.Currency,
		"receipt":  resp.Receipt,
	})

	createdAt := p.clock()
	if resp.CreatedAt > 0 {
		createdAt = time.Unix(resp.CreatedAt, 0).UTC()
	}

	return GatewayOrder{
		ID:        resp.ID,
		Provider:  "razorpay",
		Amount:    resp.Amount,
		Currency:  strings.ToUpper(resp.Currency),
		Receipt:   resp.Receipt,
		Status:    razorpayStatus(resp.Status, false),
		CreatedAt: createdAt,
		Raw:       raw,
	}, nil
}

// VerifyPayment checks the handshake signature the client returned after paying.
// The signature is HMAC-SHA256 over "<orderID>|<paymentID>" keyed with the API secret.
func (p *RazorpayProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order id, payment id, and signature are required", ErrSignatureMismatch)
	}

	mac := hmac.New(sha256.New, []byte(p.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		p.logger(ctx, "payments.razorpay.signature.mismatch", map[string]any{
			"orderId":   orderID,
			"paymentId": paymentID,
		})
		return PaymentDetails{}, ErrSignatureMismatch
	}

	details, err := p.LookupPayment(ctx, LookupRequest{PaymentID: paymentID})
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.OrderID != "" && details.OrderID != orderID {
		return PaymentDetails{}, fmt.Errorf("%w: payment belongs to a different order", ErrSignatureMismatch)
	}
	details.OrderID = orderID
	return details, nil
}

// LookupPayment retrieves a Razorpay payment.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	var resp razorpayPaymentResponse
	raw, err := p.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, "", &resp)
	if err != nil {
		return PaymentDetails{}, err
	}

	var capturedAt *time.Time
	if resp.Captured && resp.CreatedAt > 0 {
		t := time.Unix(resp.CreatedAt, 0).UTC()
		capturedAt = &t
	}

	return PaymentDetails{
		Provider:   "razorpay",
		PaymentID:  resp.ID,
		OrderID:    resp.OrderID,
		Status:     razorpayStatus(resp.Status, resp.Captured),
		Amount:     resp.Amount,
		Currency:   strings.ToUpper(resp.Currency),
		Method:     resp.Method,
		Email:      resp.Email,
		Contact:    resp.Contact,
		Captured:   resp.Captured,
		CapturedAt: capturedAt,
		Raw:        raw,
	}, nil
}

// VerifyWebhookSignature validates the HMAC-SHA256 hex signature Razorpay attaches to webhook deliveries.
func (p *RazorpayProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	if p == nil {
		return errors.New("razorpay: provider is nil")
	}
	secret := p.webhookSecret
	if secret == "" {
		secret = p.keySecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func (p *RazorpayProvider) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("razorpay: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("X-Razorpay-Idempotency", key)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("razorpay: %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("razorpay: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr razorpayErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Description != "" {
			return nil, fmt.Errorf("razorpay: %s %s: %s (%s)", method, path, apiErr.Error.Description, apiErr.Error.Code)
		}
		return nil, fmt.Errorf("razorpay: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("razorpay: decode response: %w", err)
		}
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = nil
	}
	return raw, nil
}

func razorpayStatus(status string, captured bool) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "created", "attempted":
		return StatusCreated
	case "authorized":
		return StatusAuthorized
	case "captured", "paid":
		return StatusCaptured
	case "refunded":
		return StatusRefunded
	case "failed":
		return StatusFailed
	default:
		if captured {
			return StatusCaptured
		}
		return StatusCreated
	}
}
