package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkaar/api/internal/platform/httpx"
	"github.com/kalamkaar/api/internal/services"
)

const (
	maxWebhookBodySize       = 256 * 1024
	razorpaySignatureHeader  = "X-Razorpay-Signature"
	stripeSignatureHeader    = "Stripe-Signature"
	defaultWebhookRateLimit  = 120
	defaultWebhookRateWindow = time.Minute
)

// WebhookHandlers receives asynchronous payment gateway notifications and
// reconciles them through the checkout service.
type WebhookHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// WebhookOption customises webhook handler behaviour.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimiter overrides the per-provider rate limiter.
func WithWebhookRateLimiter(limiter rateLimiter) WebhookOption {
	return func(h *WebhookHandlers) {
		if limiter != nil {
			h.limiter = limiter
		}
	}
}

// WithWebhookRateLimit sets the per-provider deliveries allowed each minute.
func WithWebhookRateLimit(limit int) WebhookOption {
	return func(h *WebhookHandlers) {
		if limit > 0 {
			h.limiter = newSimpleRateLimiter(limit, time.Minute, time.Now)
		}
	}
}

// NewWebhookHandlers constructs handlers for gateway webhook deliveries.
func NewWebhookHandlers(checkout services.CheckoutService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		checkout: checkout,
		limiter:  newSimpleRateLimiter(defaultWebhookRateLimit, defaultWebhookRateWindow, time.Now),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the webhook endpoints on the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentEvent)
}

func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider path parameter is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(provider) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	err = h.checkout.ProcessGatewayEvent(ctx, services.GatewayEventCommand{
		Provider:  provider,
		Payload:   payload,
		Signature: signatureForProvider(r, provider),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCheckoutVerificationFailed):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		case errors.Is(err, services.ErrCheckoutInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrCheckoutUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		default:
			// Gateways retry on 5xx. Answer 500 so transient failures get redelivered.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func signatureForProvider(r *http.Request, provider string) string {
	switch provider {
	case "stripe":
		return strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	default:
		return strings.TrimSpace(r.Header.Get(razorpaySignatureHeader))
	}
}
