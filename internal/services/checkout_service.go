package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/payments"
	"github.com/kalamkaar/api/internal/platform/textutil"
	"github.com/kalamkaar/api/internal/repositories"
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutCartEmpty indicates checkout was attempted with no purchasable lines.
var ErrCheckoutCartEmpty = errors.New("checkout service: cart is empty")

// ErrCheckoutOrderNotFound indicates no matching order exists for the caller.
var ErrCheckoutOrderNotFound = errors.New("checkout service: order not found")

// ErrCheckoutVerificationFailed indicates the payment handshake could not be
// verified. The cart is left intact so the customer can retry or contact support.
var ErrCheckoutVerificationFailed = errors.New("checkout service: payment verification failed")

// ErrCheckoutAlreadyCompleted indicates the order was already paid and frozen.
var ErrCheckoutAlreadyCompleted = errors.New("checkout service: order already completed")

// ErrCheckoutUnavailable indicates a downstream dependency is unreachable.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

var (
	phonePattern   = regexp.MustCompile(`^[0-9]{10}$`)
	pincodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// PaymentGateway is the slice of the payments manager the checkout flow needs.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

// WebhookVerifier validates gateway webhook signatures before events are trusted.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) error
}

// CheckoutServiceDeps wires the collaborators for the checkout flow.
type CheckoutServiceDeps struct {
	Carts      CartService
	Summarizer SummaryService
	Orders     repositories.OrderRepository
	Gateway    PaymentGateway
	// Webhooks verifies events when the command names no provider or the
	// provider has no dedicated entry in WebhookVerifiers.
	Webhooks WebhookVerifier
	// WebhookVerifiers maps a gateway name to its signature verifier, so
	// events from each registered gateway are checked against that
	// gateway's own signing secret.
	WebhookVerifiers map[string]WebhookVerifier
	Notifier         NotificationService
	Events           OrderEventPublisher
	Clock            func() time.Time
	IDGenerator      func() string
	Country          string
	GatewayKey       string
	Logger           func(context.Context, string, map[string]any)
}

type checkoutService struct {
	carts            CartService
	summarizer       SummaryService
	orders           repositories.OrderRepository
	gateway          PaymentGateway
	webhooks         WebhookVerifier
	webhookVerifiers map[string]WebhookVerifier
	notifier         NotificationService
	events           OrderEventPublisher
	newID            func() string
	now              func() time.Time
	country          string
	gatewayKey       string
	logger           func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("checkout service: summary service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("checkout service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	country := strings.ToUpper(strings.TrimSpace(deps.Country))
	if country == "" {
		country = "IN"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	verifiers := make(map[string]WebhookVerifier, len(deps.WebhookVerifiers))
	for name, verifier := range deps.WebhookVerifiers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || verifier == nil {
			continue
		}
		verifiers[name] = verifier
	}

	return &checkoutService{
		carts:            deps.Carts,
		summarizer:       deps.Summarizer,
		orders:           deps.Orders,
		gateway:          deps.Gateway,
		webhooks:         deps.Webhooks,
		webhookVerifiers: verifiers,
		notifier:         deps.Notifier,
		events:           deps.Events,
		newID:            idGen,
		now:              func() time.Time { return deps.Clock().UTC() },
		country:          country,
		gatewayKey:       strings.TrimSpace(deps.GatewayKey),
		logger:           logger,
	}, nil
}

// Begin validates shipping details, snapshots the cart into a pending order,
// and opens a gateway order for the client-side payment handshake.
func (s *checkoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutIntent, error) {
	if s == nil || s.orders == nil {
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutIntent{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	shipping, err := validateShipping(cmd.Shipping, s.country)
	if err != nil {
		return CheckoutIntent{}, err
	}

	scope := cmd.Scope
	if strings.TrimSpace(scope.UserID) == "" && strings.TrimSpace(scope.SessionID) == "" {
		scope = CartScope{UserID: userID}
	}

	cart, err := s.carts.GetCart(ctx, scope)
	if err != nil {
		return CheckoutIntent{}, s.translateCartError(err)
	}
	if len(cart.Items) == 0 {
		return CheckoutIntent{}, ErrCheckoutCartEmpty
	}

	summary, err := s.summarizer.SummarizeCart(ctx, cart)
	if err != nil {
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}
	if summary.Total <= 0 {
		return CheckoutIntent{}, fmt.Errorf("%w: order total must be positive", ErrCheckoutInvalidInput)
	}

	now := s.now()
	orderID := strings.TrimSpace(s.newID())
	if orderID == "" {
		orderID = ulid.Make().String()
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.PaymentContext{
		PreferredProvider: cmd.PreferredProvider,
		Currency:          cart.Currency,
	}, payments.OrderRequest{
		Amount:         summary.Total,
		Currency:       cart.Currency,
		Receipt:        orderID,
		CustomerEmail:  shipping.Email,
		CustomerPhone:  shipping.Phone,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Notes: map[string]string{
			"userId":  userID,
			"orderId": orderID,
		},
	})
	if err != nil {
		s.logger(ctx, "checkout.gateway_order_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}

	order := domain.Order{
		ID:         orderID,
		UserID:     userID,
		Status:     domain.OrderStatusPendingPayment,
		Currency:   cart.Currency,
		Items:      orderLinesFromCart(cart.Items),
		Summary:    summary,
		CouponCode: cart.CouponCode,
		Note:       textutil.CleanUserText(cmd.Note),
		Shipping:   shipping,
		Payment: &domain.OrderPayment{
			Provider:       gatewayOrder.Provider,
			GatewayOrderID: gatewayOrder.ID,
			Amount:         summary.Total,
			Currency:       cart.Currency,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if isRepoConflict(err) {
			return CheckoutIntent{}, fmt.Errorf("%w: order id already in use", ErrCheckoutInvalidInput)
		}
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}

	s.logger(ctx, "checkout.begun", map[string]any{
		"userId":         userID,
		"orderId":        orderID,
		"gatewayOrderId": gatewayOrder.ID,
		"amount":         summary.Total,
	})

	return CheckoutIntent{
		OrderID:        orderID,
		GatewayOrderID: gatewayOrder.ID,
		Provider:       gatewayOrder.Provider,
		Amount:         summary.Total,
		Currency:       cart.Currency,
		KeyID:          s.gatewayKey,
		CreatedAt:      now,
	}, nil
}

// ConfirmPayment verifies the handshake signature and freezes the order. A
// failed verification marks the order failed but leaves the cart untouched.
func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	signature := strings.TrimSpace(cmd.Signature)
	if userID == "" || gatewayOrderID == "" || paymentID == "" || signature == "" {
		return Order{}, ErrCheckoutInvalidInput
	}

	order, err := s.findOwnedOrder(ctx, gatewayOrderID, userID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusPaid {
		// Retried confirmation of an already frozen order is a success.
		return order, nil
	}

	provider := ""
	if order.Payment != nil {
		provider = order.Payment.Provider
	}

	details, err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{
		PreferredProvider: provider,
		Currency:          order.Currency,
	}, payments.VerifyRequest{
		OrderID:   gatewayOrderID,
		PaymentID: paymentID,
		Signature: signature,
	})
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			s.markFailed(ctx, order, "signature verification failed")
			return Order{}, ErrCheckoutVerificationFailed
		}
		return Order{}, ErrCheckoutUnavailable
	}
	if details.Status != payments.StatusCaptured {
		s.markFailed(ctx, order, fmt.Sprintf("payment not captured (status %s)", details.Status))
		return Order{}, ErrCheckoutVerificationFailed
	}

	now := s.now()
	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = now
	payment := domain.OrderPayment{
		Provider:       firstNonEmpty(details.Provider, provider),
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Signature:      signature,
		Amount:         order.Summary.Total,
		Currency:       order.Currency,
		VerifiedAt:     now,
	}
	order.Payment = &payment

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrCheckoutUnavailable
	}

	if err := s.carts.ClearCart(ctx, CartScope{UserID: userID}); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"userId":  userID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	if s.notifier != nil {
		s.notifier.SendOrderConfirmation(ctx, order)
	}
	s.publishEvent(ctx, "order.paid", order)

	s.logger(ctx, "checkout.completed", map[string]any{
		"userId":    userID,
		"orderId":   order.ID,
		"paymentId": paymentID,
		"amount":    order.Summary.Total,
	})
	return order, nil
}

// Abandon marks a pending order as failed. The remote gateway order is left
// to lapse on its own; no compensating cancellation is issued.
func (s *checkoutService) Abandon(ctx context.Context, cmd AbandonCheckoutCommand) error {
	if s == nil || s.orders == nil {
		return ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if userID == "" || gatewayOrderID == "" {
		return ErrCheckoutInvalidInput
	}

	order, err := s.findOwnedOrder(ctx, gatewayOrderID, userID)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusPaid {
		return ErrCheckoutAlreadyCompleted
	}
	if order.Status == domain.OrderStatusFailed {
		return nil
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "abandoned"
	}
	s.markFailed(ctx, order, reason)

	s.logger(ctx, "checkout.abandoned", map[string]any{
		"userId":  userID,
		"orderId": order.ID,
		"reason":  reason,
	})
	return nil
}

// verifierFor resolves the signature verifier matching the gateway that
// delivered the event. An event naming a gateway with no registered
// verifier is rejected rather than checked against another gateway's
// secret.
func (s *checkoutService) verifierFor(provider string) (WebhookVerifier, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name != "" && len(s.webhookVerifiers) > 0 {
		if verifier, ok := s.webhookVerifiers[name]; ok {
			return verifier, nil
		}
		return nil, ErrCheckoutVerificationFailed
	}
	return s.webhooks, nil
}

type gatewayEventEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ProcessGatewayEvent reconciles asynchronous gateway notifications against
// stored orders. Events for unknown orders or already settled orders are
// acknowledged without effect.
func (s *checkoutService) ProcessGatewayEvent(ctx context.Context, cmd GatewayEventCommand) error {
	if s == nil || s.orders == nil {
		return ErrCheckoutUnavailable
	}
	if len(cmd.Payload) == 0 {
		return ErrCheckoutInvalidInput
	}

	if verifier, err := s.verifierFor(cmd.Provider); err != nil {
		return err
	} else if verifier != nil {
		if err := verifier.VerifyWebhookSignature(cmd.Payload, cmd.Signature); err != nil {
			return ErrCheckoutVerificationFailed
		}
	}

	var envelope gatewayEventEnvelope
	if err := json.Unmarshal(cmd.Payload, &envelope); err != nil {
		return fmt.Errorf("%w: malformed event payload", ErrCheckoutInvalidInput)
	}

	gatewayOrderID := strings.TrimSpace(envelope.Payload.Payment.Entity.OrderID)
	if gatewayOrderID == "" {
		s.logger(ctx, "checkout.event_ignored", map[string]any{"event": envelope.Event})
		return nil
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "checkout.event_unmatched", map[string]any{
				"event":          envelope.Event,
				"gatewayOrderId": gatewayOrderID,
			})
			return nil
		}
		return ErrCheckoutUnavailable
	}

	switch envelope.Event {
	case "payment.captured":
		if order.Status != domain.OrderStatusPendingPayment {
			return nil
		}
		now := s.now()
		order.Status = domain.OrderStatusPaid
		order.UpdatedAt = now
		if order.Payment == nil {
			order.Payment = &domain.OrderPayment{GatewayOrderID: gatewayOrderID}
		}
		order.Payment.PaymentID = strings.TrimSpace(envelope.Payload.Payment.Entity.ID)
		order.Payment.VerifiedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return ErrCheckoutUnavailable
		}
		if err := s.carts.ClearCart(ctx, CartScope{UserID: order.UserID}); err != nil {
			s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
				"userId":  order.UserID,
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
		if s.notifier != nil {
			s.notifier.SendOrderConfirmation(ctx, order)
		}
		s.publishEvent(ctx, "order.paid", order)
	case "payment.failed":
		if order.Status != domain.OrderStatusPendingPayment {
			return nil
		}
		s.markFailed(ctx, order, "gateway reported payment failure")
	default:
		s.logger(ctx, "checkout.event_ignored", map[string]any{"event": envelope.Event})
	}
	return nil
}

func (s *checkoutService) findOwnedOrder(ctx context.Context, gatewayOrderID, userID string) (domain.Order, error) {
	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrCheckoutOrderNotFound
		}
		return domain.Order{}, ErrCheckoutUnavailable
	}
	if order.UserID != userID {
		// Hide other users' orders behind not-found.
		return domain.Order{}, ErrCheckoutOrderNotFound
	}
	return order, nil
}

func (s *checkoutService) markFailed(ctx context.Context, order domain.Order, reason string) {
	order.Status = domain.OrderStatusFailed
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "checkout.mark_failed_error", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	s.publishEvent(ctx, "order.failed", order)
	s.logger(ctx, "checkout.payment_failed", map[string]any{
		"orderId": order.ID,
		"reason":  reason,
	})
}

func (s *checkoutService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Amount:     order.Summary.Total,
		Currency:   order.Currency,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) translateCartError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput):
		return ErrCheckoutInvalidInput
	case errors.Is(err, ErrCartNotFound):
		return ErrCheckoutCartEmpty
	default:
		return ErrCheckoutUnavailable
	}
}

func validateShipping(details domain.ShippingDetails, country string) (domain.ShippingDetails, error) {
	out := domain.ShippingDetails{
		Name:    strings.TrimSpace(details.Name),
		Email:   strings.TrimSpace(details.Email),
		Phone:   strings.TrimSpace(details.Phone),
		Address: strings.TrimSpace(details.Address),
		City:    strings.TrimSpace(details.City),
		State:   strings.TrimSpace(details.State),
		Pincode: strings.TrimSpace(details.Pincode),
		Country: strings.ToUpper(strings.TrimSpace(details.Country)),
	}

	if len([]rune(out.Name)) < 2 {
		return domain.ShippingDetails{}, fmt.Errorf("%w: name must be at least 2 characters", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(out.Email); err != nil {
		return domain.ShippingDetails{}, fmt.Errorf("%w: email is invalid", ErrCheckoutInvalidInput)
	}
	if !phonePattern.MatchString(out.Phone) {
		return domain.ShippingDetails{}, fmt.Errorf("%w: phone must be 10 digits", ErrCheckoutInvalidInput)
	}
	if len([]rune(out.Address)) < 5 {
		return domain.ShippingDetails{}, fmt.Errorf("%w: address must be at least 5 characters", ErrCheckoutInvalidInput)
	}
	if len([]rune(out.City)) < 2 {
		return domain.ShippingDetails{}, fmt.Errorf("%w: city must be at least 2 characters", ErrCheckoutInvalidInput)
	}
	if len([]rune(out.State)) < 2 {
		return domain.ShippingDetails{}, fmt.Errorf("%w: state must be at least 2 characters", ErrCheckoutInvalidInput)
	}
	if !pincodePattern.MatchString(out.Pincode) {
		return domain.ShippingDetails{}, fmt.Errorf("%w: pincode must be 6 digits", ErrCheckoutInvalidInput)
	}
	if out.Country == "" {
		out.Country = country
	}
	if out.Country != country {
		return domain.ShippingDetails{}, fmt.Errorf("%w: country %q is not supported", ErrCheckoutInvalidInput, out.Country)
	}
	return out, nil
}

func orderLinesFromCart(items []domain.LineItem) []domain.OrderLineItem {
	lines := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		var variant *domain.LineItemVariant
		if item.Variant != nil {
			v := *item.Variant
			variant = &v
		}
		lines = append(lines, domain.OrderLineItem{
			LineItemID:            item.ID,
			SourceID:              item.SourceID,
			Title:                 item.Title,
			ArtistName:            item.ArtistName,
			Variant:               variant,
			CustomizationImageURL: item.CustomizationImageURL,
			DeliveryNote:          item.DeliveryNote,
			Quantity:              quantity,
			UnitPrice:             item.UnitPrice,
			Total:                 item.UnitPrice * int64(quantity),
		})
	}
	return lines
}
