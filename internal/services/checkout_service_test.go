package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/payments"
)

type stubCartService struct {
	getFunc   func(ctx context.Context, scope CartScope) (Cart, error)
	clearFunc func(ctx context.Context, scope CartScope) error
	cleared   []CartScope
}

func (s *stubCartService) GetCart(ctx context.Context, scope CartScope) (Cart, error) {
	if s.getFunc == nil {
		return Cart{}, nil
	}
	return s.getFunc(ctx, scope)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not stubbed")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not stubbed")
}

func (s *stubCartService) ClearCart(ctx context.Context, scope CartScope) error {
	s.cleared = append(s.cleared, scope)
	if s.clearFunc == nil {
		return nil
	}
	return s.clearFunc(ctx, scope)
}

func (s *stubCartService) MigrateOnSignIn(ctx context.Context, cmd MigrateCartCommand) (Cart, error) {
	return Cart{}, errors.New("not stubbed")
}

func (s *stubCartService) Watch(ctx context.Context, userID string) (CartStream, error) {
	return nil, errors.New("not stubbed")
}

type stubSummaryService struct {
	summarizeCartFunc func(ctx context.Context, cart Cart) (ChargeSummary, error)
}

func (s *stubSummaryService) Summarize(ctx context.Context, scope CartScope) (ChargeSummary, error) {
	return ChargeSummary{}, errors.New("not stubbed")
}

func (s *stubSummaryService) SummarizeCart(ctx context.Context, cart Cart) (ChargeSummary, error) {
	if s.summarizeCartFunc == nil {
		return domain.Summarize(cart.Items, nil, domain.ChargeBaseline{}), nil
	}
	return s.summarizeCartFunc(ctx, cart)
}

type stubOrderRepository struct {
	insertFunc        func(ctx context.Context, order domain.Order) error
	updateFunc        func(ctx context.Context, order domain.Order) error
	findByIDFunc      func(ctx context.Context, orderID string) (domain.Order, error)
	findByGatewayFunc func(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	listFunc          func(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	inserted []domain.Order
	updated  []domain.Order
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	s.updated = append(s.updated, order)
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc == nil {
		return domain.Order{}, errStubNotFound
	}
	return s.findByIDFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if s.findByGatewayFunc == nil {
		return domain.Order{}, errStubNotFound
	}
	return s.findByGatewayFunc(ctx, gatewayOrderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

type stubPaymentGateway struct {
	createFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error)
	verifyFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error)
}

func (s *stubPaymentGateway) CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
	if s.createFunc == nil {
		return payments.GatewayOrder{
			ID:       "order_rzp_1",
			Provider: "razorpay",
			Amount:   req.Amount,
			Currency: req.Currency,
			Receipt:  req.Receipt,
			Status:   payments.StatusCreated,
		}, nil
	}
	return s.createFunc(ctx, paymentCtx, req)
}

func (s *stubPaymentGateway) VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
	if s.verifyFunc == nil {
		return payments.PaymentDetails{
			Provider:  "razorpay",
			PaymentID: req.PaymentID,
			OrderID:   req.OrderID,
			Status:    payments.StatusCaptured,
			Captured:  true,
		}, nil
	}
	return s.verifyFunc(ctx, paymentCtx, req)
}

type recordingPublisher struct {
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func validTestShipping() domain.ShippingDetails {
	return domain.ShippingDetails{
		Name:    "Asha Verma",
		Email:   "asha@example.com",
		Phone:   "9876543210",
		Address: "14 Lake View Road",
		City:    "Pune",
		State:   "Maharashtra",
		Pincode: "411001",
		Country: "IN",
	}
}

func checkoutTestCart() Cart {
	return Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "INR",
		Items: []domain.LineItem{
			{ID: "line-1", SourceID: "sketch-a4", Title: "A4 Pencil Sketch", Quantity: 2, UnitPrice: 199900},
		},
	}
}

func newTestCheckoutService(t *testing.T, carts *stubCartService, orders *stubOrderRepository, gateway *stubPaymentGateway, publisher *recordingPublisher, now time.Time) CheckoutService {
	t.Helper()
	deps := CheckoutServiceDeps{
		Carts:      carts,
		Summarizer: &stubSummaryService{},
		Orders:     orders,
		Gateway:    gateway,
		Clock:      func() time.Time { return now },
		IDGenerator: func() string {
			return "01ORDER00000000000000000001"
		},
		GatewayKey: "rzp_test_key",
	}
	if publisher != nil {
		deps.Events = publisher
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestCheckoutBeginSnapshotsCart(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(ctx context.Context, scope CartScope) (Cart, error) {
			return checkoutTestCart(), nil
		},
	}
	orders := &stubOrderRepository{}
	var createReq payments.OrderRequest
	gateway := &stubPaymentGateway{
		createFunc: func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
			createReq = req
			return payments.GatewayOrder{ID: "order_rzp_1", Provider: "razorpay", Amount: req.Amount, Currency: req.Currency, Status: payments.StatusCreated}, nil
		},
	}
	svc := newTestCheckoutService(t, carts, orders, gateway, nil, now)

	intent, err := svc.Begin(context.Background(), BeginCheckoutCommand{
		UserID:   "user-1",
		Shipping: validTestShipping(),
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if intent.Amount != 399800 {
		t.Fatalf("unexpected intent amount %d", intent.Amount)
	}
	if createReq.Amount != 399800 || createReq.Currency != "INR" {
		t.Fatalf("unexpected gateway request %+v", createReq)
	}
	if intent.GatewayOrderID != "order_rzp_1" {
		t.Fatalf("unexpected gateway order id %q", intent.GatewayOrderID)
	}
	if intent.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected key id %q", intent.KeyID)
	}

	if len(orders.inserted) != 1 {
		t.Fatalf("expected 1 inserted order, got %d", len(orders.inserted))
	}
	order := orders.inserted[0]
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if len(order.Items) != 1 || order.Items[0].Total != 399800 {
		t.Fatalf("unexpected order lines %+v", order.Items)
	}
	if order.Payment == nil || order.Payment.GatewayOrderID != "order_rzp_1" {
		t.Fatalf("expected gateway order reference, got %+v", order.Payment)
	}
}

func TestCheckoutBeginRejectsEmptyCart(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(ctx context.Context, scope CartScope) (Cart, error) {
			return Cart{ID: "user-1", UserID: "user-1", Currency: "INR"}, nil
		},
	}
	svc := newTestCheckoutService(t, carts, &stubOrderRepository{}, &stubPaymentGateway{}, nil, now)

	if _, err := svc.Begin(context.Background(), BeginCheckoutCommand{UserID: "user-1", Shipping: validTestShipping()}); !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
}

func TestCheckoutBeginValidatesShipping(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestCheckoutService(t, &stubCartService{}, &stubOrderRepository{}, &stubPaymentGateway{}, nil, now)

	mutations := []struct {
		name   string
		mutate func(*domain.ShippingDetails)
	}{
		{"short name", func(d *domain.ShippingDetails) { d.Name = "A" }},
		{"bad email", func(d *domain.ShippingDetails) { d.Email = "not-an-email" }},
		{"short phone", func(d *domain.ShippingDetails) { d.Phone = "12345" }},
		{"alpha phone", func(d *domain.ShippingDetails) { d.Phone = "987654321x" }},
		{"short address", func(d *domain.ShippingDetails) { d.Address = "x" }},
		{"bad pincode", func(d *domain.ShippingDetails) { d.Pincode = "4110" }},
		{"foreign country", func(d *domain.ShippingDetails) { d.Country = "US" }},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			shipping := validTestShipping()
			tc.mutate(&shipping)
			_, err := svc.Begin(context.Background(), BeginCheckoutCommand{UserID: "user-1", Shipping: shipping})
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
}

func TestCheckoutBeginGatewayFailure(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(ctx context.Context, scope CartScope) (Cart, error) {
			return checkoutTestCart(), nil
		},
	}
	gateway := &stubPaymentGateway{
		createFunc: func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
			return payments.GatewayOrder{}, fmt.Errorf("gateway down")
		},
	}
	orders := &stubOrderRepository{}
	svc := newTestCheckoutService(t, carts, orders, gateway, nil, now)

	if _, err := svc.Begin(context.Background(), BeginCheckoutCommand{UserID: "user-1", Shipping: validTestShipping()}); !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("no order should be written after gateway failure")
	}
}

func pendingCheckoutOrder(now time.Time) domain.Order {
	return domain.Order{
		ID:       "order-1",
		UserID:   "user-1",
		Status:   domain.OrderStatusPendingPayment,
		Currency: "INR",
		Items: []domain.OrderLineItem{
			{LineItemID: "line-1", SourceID: "sketch-a4", Title: "A4 Pencil Sketch", Quantity: 2, UnitPrice: 199900, Total: 399800},
		},
		Summary:  domain.ChargeSummary{Subtotal: 399800, Total: 399800},
		Shipping: validTestShipping(),
		Payment: &domain.OrderPayment{
			Provider:       "razorpay",
			GatewayOrderID: "order_rzp_1",
			Amount:         399800,
			Currency:       "INR",
		},
		CreatedAt: now.Add(-5 * time.Minute),
		UpdatedAt: now.Add(-5 * time.Minute),
	}
}

func TestCheckoutConfirmPaymentSuccess(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	carts := &stubCartService{}
	publisher := &recordingPublisher{}
	svc := newTestCheckoutService(t, carts, orders, &stubPaymentGateway{}, publisher, now)

	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		UserID:         "user-1",
		GatewayOrderID: "order_rzp_1",
		PaymentID:      "pay_123",
		Signature:      "sig-abc",
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if order.Payment == nil || order.Payment.PaymentID != "pay_123" || order.Payment.VerifiedAt != now {
		t.Fatalf("unexpected payment record %+v", order.Payment)
	}
	if len(orders.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(orders.updated))
	}
	if len(carts.cleared) != 1 || carts.cleared[0].UserID != "user-1" {
		t.Fatalf("expected account cart cleared, got %v", carts.cleared)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %v", publisher.events)
	}
}

func TestCheckoutConfirmPaymentIdempotentWhenPaid(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	paid := pendingCheckoutOrder(now)
	paid.Status = domain.OrderStatusPaid
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return paid, nil
		},
	}
	carts := &stubCartService{}
	svc := newTestCheckoutService(t, carts, orders, &stubPaymentGateway{}, nil, now)

	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		UserID:         "user-1",
		GatewayOrderID: "order_rzp_1",
		PaymentID:      "pay_123",
		Signature:      "sig-abc",
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if len(orders.updated) != 0 {
		t.Fatalf("no update expected for already paid order")
	}
	if len(carts.cleared) != 0 {
		t.Fatalf("cart must not be cleared again")
	}
}

func TestCheckoutConfirmPaymentBadSignatureLeavesCart(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	gateway := &stubPaymentGateway{
		verifyFunc: func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, payments.ErrSignatureMismatch
		},
	}
	carts := &stubCartService{}
	svc := newTestCheckoutService(t, carts, orders, gateway, nil, now)

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		UserID:         "user-1",
		GatewayOrderID: "order_rzp_1",
		PaymentID:      "pay_123",
		Signature:      "forged",
	})
	if !errors.Is(err, ErrCheckoutVerificationFailed) {
		t.Fatalf("expected ErrCheckoutVerificationFailed, got %v", err)
	}
	if len(carts.cleared) != 0 {
		t.Fatalf("cart must stay intact after failed verification")
	}
	if len(orders.updated) != 1 || orders.updated[0].Status != domain.OrderStatusFailed {
		t.Fatalf("expected order marked failed, got %+v", orders.updated)
	}
}

func TestCheckoutConfirmPaymentHidesForeignOrders(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	svc := newTestCheckoutService(t, &stubCartService{}, orders, &stubPaymentGateway{}, nil, now)

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		UserID:         "user-2",
		GatewayOrderID: "order_rzp_1",
		PaymentID:      "pay_123",
		Signature:      "sig-abc",
	})
	if !errors.Is(err, ErrCheckoutOrderNotFound) {
		t.Fatalf("expected ErrCheckoutOrderNotFound, got %v", err)
	}
}

func TestCheckoutAbandonMarksFailed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	svc := newTestCheckoutService(t, &stubCartService{}, orders, &stubPaymentGateway{}, nil, now)

	if err := svc.Abandon(context.Background(), AbandonCheckoutCommand{UserID: "user-1", GatewayOrderID: "order_rzp_1", Reason: "closed tab"}); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if len(orders.updated) != 1 || orders.updated[0].Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed order, got %+v", orders.updated)
	}
}

func TestCheckoutAbandonRejectsPaidOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	paid := pendingCheckoutOrder(now)
	paid.Status = domain.OrderStatusPaid
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return paid, nil
		},
	}
	svc := newTestCheckoutService(t, &stubCartService{}, orders, &stubPaymentGateway{}, nil, now)

	if err := svc.Abandon(context.Background(), AbandonCheckoutCommand{UserID: "user-1", GatewayOrderID: "order_rzp_1"}); !errors.Is(err, ErrCheckoutAlreadyCompleted) {
		t.Fatalf("expected ErrCheckoutAlreadyCompleted, got %v", err)
	}
}

type stubWebhookVerifier struct {
	err error
}

func (s *stubWebhookVerifier) VerifyWebhookSignature(payload []byte, signature string) error {
	return s.err
}

func TestCheckoutProcessGatewayEventCaptured(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	carts := &stubCartService{}
	publisher := &recordingPublisher{}
	deps := CheckoutServiceDeps{
		Carts:      carts,
		Summarizer: &stubSummaryService{},
		Orders:     orders,
		Gateway:    &stubPaymentGateway{},
		Webhooks:   &stubWebhookVerifier{},
		Events:     publisher,
		Clock:      func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	payload := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_rzp_1","status":"captured"}}}}`
	if err := svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "razorpay", Payload: []byte(payload), Signature: "sig"}); err != nil {
		t.Fatalf("ProcessGatewayEvent: %v", err)
	}
	if len(orders.updated) != 1 || orders.updated[0].Status != domain.OrderStatusPaid {
		t.Fatalf("expected order marked paid, got %+v", orders.updated)
	}
	if len(carts.cleared) != 1 {
		t.Fatalf("expected cart cleared")
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %v", publisher.events)
	}
}

func TestCheckoutProcessGatewayEventRejectsBadSignature(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	deps := CheckoutServiceDeps{
		Carts:      &stubCartService{},
		Summarizer: &stubSummaryService{},
		Orders:     &stubOrderRepository{},
		Gateway:    &stubPaymentGateway{},
		Webhooks:   &stubWebhookVerifier{err: errors.New("signature mismatch")},
		Clock:      func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	err = svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "razorpay", Payload: []byte(`{}`), Signature: "bad"})
	if !errors.Is(err, ErrCheckoutVerificationFailed) {
		t.Fatalf("expected ErrCheckoutVerificationFailed, got %v", err)
	}
}

func TestCheckoutProcessGatewayEventVerifiesWithNamedProvider(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	deps := CheckoutServiceDeps{
		Carts:      &stubCartService{},
		Summarizer: &stubSummaryService{},
		Orders:     orders,
		Gateway:    &stubPaymentGateway{},
		Webhooks:   &stubWebhookVerifier{err: errors.New("wrong secret")},
		WebhookVerifiers: map[string]WebhookVerifier{
			"razorpay": &stubWebhookVerifier{err: errors.New("wrong secret")},
			"stripe":   &stubWebhookVerifier{},
		},
		Events: &recordingPublisher{},
		Clock:  func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	payload := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_rzp_1","status":"captured"}}}}`
	if err := svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "stripe", Payload: []byte(payload), Signature: "sig"}); err != nil {
		t.Fatalf("ProcessGatewayEvent: %v", err)
	}

	err = svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "razorpay", Payload: []byte(payload), Signature: "sig"})
	if !errors.Is(err, ErrCheckoutVerificationFailed) {
		t.Fatalf("expected ErrCheckoutVerificationFailed for razorpay secret, got %v", err)
	}
}

func TestCheckoutProcessGatewayEventRejectsUnregisteredProvider(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	deps := CheckoutServiceDeps{
		Carts:      &stubCartService{},
		Summarizer: &stubSummaryService{},
		Orders:     &stubOrderRepository{},
		Gateway:    &stubPaymentGateway{},
		Webhooks:   &stubWebhookVerifier{},
		WebhookVerifiers: map[string]WebhookVerifier{
			"razorpay": &stubWebhookVerifier{},
		},
		Clock: func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	err = svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "paypal", Payload: []byte(`{}`), Signature: "sig"})
	if !errors.Is(err, ErrCheckoutVerificationFailed) {
		t.Fatalf("expected rejection for unregistered provider, got %v", err)
	}
}

func TestCheckoutProcessGatewayEventIgnoresUnknownOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{}
	deps := CheckoutServiceDeps{
		Carts:      &stubCartService{},
		Summarizer: &stubSummaryService{},
		Orders:     orders,
		Gateway:    &stubPaymentGateway{},
		Clock:      func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	payload := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_missing"}}}}`
	if err := svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "razorpay", Payload: []byte(payload)}); err != nil {
		t.Fatalf("expected unmatched event to be acknowledged, got %v", err)
	}
	if len(orders.updated) != 0 {
		t.Fatalf("no updates expected for unmatched event")
	}
}

func TestCheckoutProcessGatewayEventFailure(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByGatewayFunc: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return pendingCheckoutOrder(now), nil
		},
	}
	deps := CheckoutServiceDeps{
		Carts:      &stubCartService{},
		Summarizer: &stubSummaryService{},
		Orders:     orders,
		Gateway:    &stubPaymentGateway{},
		Clock:      func() time.Time { return now },
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	payload := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_rzp_1","status":"failed"}}}}`
	if err := svc.ProcessGatewayEvent(context.Background(), GatewayEventCommand{Provider: "razorpay", Payload: []byte(payload)}); err != nil {
		t.Fatalf("ProcessGatewayEvent: %v", err)
	}
	if len(orders.updated) != 1 || orders.updated[0].Status != domain.OrderStatusFailed {
		t.Fatalf("expected order marked failed, got %+v", orders.updated)
	}
}

func TestCheckoutBeginOrderIDUsedAsReceipt(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(ctx context.Context, scope CartScope) (Cart, error) {
			return checkoutTestCart(), nil
		},
	}
	var receipt string
	gateway := &stubPaymentGateway{
		createFunc: func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
			receipt = req.Receipt
			return payments.GatewayOrder{ID: "order_rzp_1", Provider: "razorpay"}, nil
		},
	}
	svc := newTestCheckoutService(t, carts, &stubOrderRepository{}, gateway, nil, now)

	intent, err := svc.Begin(context.Background(), BeginCheckoutCommand{UserID: "user-1", Shipping: validTestShipping()})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !strings.EqualFold(receipt, intent.OrderID) {
		t.Fatalf("receipt %q should match order id %q", receipt, intent.OrderID)
	}
}
