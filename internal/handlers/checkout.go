package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkaar/api/internal/platform/auth"
	"github.com/kalamkaar/api/internal/platform/httpx"
	"github.com/kalamkaar/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

const idempotencyKeyHeader = "Idempotency-Key"

// CheckoutHandlers exposes the payment handshake endpoints for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout", h.beginCheckout)
	group.Post("/checkout/confirm", h.confirmPayment)
	group.Post("/checkout/abandon", h.abandonCheckout)
}

type shippingRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type beginCheckoutRequest struct {
	Shipping  shippingRequest `json:"shipping"`
	Note      string          `json:"note"`
	Provider  string          `json:"provider"`
	SessionID string          `json:"sessionId"`
}

type checkoutIntentResponse struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Provider       string `json:"provider"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

type confirmPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

type abandonCheckoutRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	Reason         string `json:"reason"`
}

func (h *CheckoutHandlers) beginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCheckout(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req beginCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.BeginCheckoutCommand{
		UserID: identity.UID,
		Scope:  services.CartScope{UserID: identity.UID},
		Shipping: services.ShippingDetails{
			Name:    strings.TrimSpace(req.Shipping.Name),
			Email:   strings.TrimSpace(req.Shipping.Email),
			Phone:   strings.TrimSpace(req.Shipping.Phone),
			Address: strings.TrimSpace(req.Shipping.Address),
			City:    strings.TrimSpace(req.Shipping.City),
			State:   strings.TrimSpace(req.Shipping.State),
			Pincode: strings.TrimSpace(req.Shipping.Pincode),
			Country: strings.TrimSpace(req.Shipping.Country),
		},
		Note:              strings.TrimSpace(req.Note),
		PreferredProvider: strings.TrimSpace(req.Provider),
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}

	intent, err := h.checkout.Begin(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutIntentResponse{
		OrderID:        intent.OrderID,
		GatewayOrderID: intent.GatewayOrderID,
		Provider:       intent.Provider,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		KeyID:          intent.KeyID,
	}
	if !intent.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(intent.CreatedAt)
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *CheckoutHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCheckout(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		UserID:         identity.UID,
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		PaymentID:      strings.TrimSpace(req.PaymentID),
		Signature:      strings.TrimSpace(req.Signature),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCheckout(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req abandonCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	err = h.checkout.Abandon(ctx, services.AbandonCheckoutCommand{
		UserID:         identity.UID,
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) requireCheckout(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to check out", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutAlreadyCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("order_completed", "order has already been paid", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout operation failed", http.StatusInternalServerError))
	}
}
