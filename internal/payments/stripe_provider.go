package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	AccountID     string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider adapts Stripe Payment Intents onto the gateway order handshake.
// The intent stands in for the gateway order; the client confirms it with the
// publishable key and the backend verifies capture by retrieving the intent.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
		}
	}

	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// endpoint's signing secret, including Stripe's timestamp tolerance.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return errors.New("stripe: webhook secret not configured")
	}
	if err := webhook.ValidatePayload(payload, strings.TrimSpace(signature), p.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return nil
}

// CreateOrder creates a Stripe Payment Intent to act as the gateway order.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("stripe: amount must be greater than zero")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	metadata := make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		metadata[k] = v
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		metadata["receipt"] = receipt
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	createdAt := p.clock()
	if intent.Created != 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}

	return GatewayOrder{
		ID:        intent.ID,
		Provider:  "stripe",
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Receipt:   strings.TrimSpace(req.Receipt),
		Status:    stripeStatus(intent),
		CreatedAt: createdAt,
		Raw:       stripeRaw(intent),
	}, nil
}

// VerifyPayment retrieves the intent and requires it to be captured. Stripe has
// no client-returned signature, so the intent state is the source of truth.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.OrderID)
	if intentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order id is required", ErrSignatureMismatch)
	}

	details, err := p.lookupIntent(ctx, intentID)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Status != StatusCaptured {
		p.logger(ctx, "payments.stripe.verification.rejected", map[string]any{
			"paymentIntent": intentID,
			"status":        details.Status,
		})
		return PaymentDetails{}, fmt.Errorf("%w: payment intent not captured", ErrSignatureMismatch)
	}
	if paymentID := strings.TrimSpace(req.PaymentID); paymentID != "" && details.PaymentID != "" && details.PaymentID != paymentID {
		return PaymentDetails{}, fmt.Errorf("%w: charge does not match payment intent", ErrSignatureMismatch)
	}
	details.OrderID = intentID
	return details, nil
}

// LookupPayment retrieves a Stripe Payment Intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	return p.lookupIntent(ctx, strings.TrimSpace(req.PaymentID))
}

func (p *StripeProvider) lookupIntent(ctx context.Context, intentID string) (PaymentDetails, error) {
	if intentID == "" {
		return PaymentDetails{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := stripeStatus(intent)

	var capturedAt *time.Time
	captured := false
	paymentID := ""
	if charge := intent.LatestCharge; charge != nil {
		paymentID = charge.ID
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
			captured = true
		}
		if charge.Refunded || (charge.AmountRefunded >= charge.Amount && charge.Amount > 0) {
			status = StatusRefunded
		}
	}
	if intent.Status == stripe.PaymentIntentStatusSucceeded && status != StatusRefunded {
		captured = true
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	return PaymentDetails{
		Provider:   "stripe",
		PaymentID:  paymentID,
		OrderID:    intent.ID,
		Status:     status,
		Amount:     intent.Amount,
		Currency:   currency,
		Captured:   captured,
		CapturedAt: capturedAt,
		Raw:        stripeRaw(intent),
	}
}

func stripeStatus(intent *stripe.PaymentIntent) Status {
	if intent == nil {
		return StatusCreated
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	default:
		return StatusCreated
	}
}

func stripeRaw(intent *stripe.PaymentIntent) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["payment_intent"] = intent
	}
	return raw
}
