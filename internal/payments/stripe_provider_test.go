package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubPaymentIntentAPI struct {
	newFunc func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFunc func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *stubPaymentIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.newFunc == nil {
		return nil, errors.New("unexpected New call")
	}
	return s.newFunc(params)
}

func (s *stubPaymentIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFunc == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFunc(id, params)
}

func newWebhookTestStripeProvider(t *testing.T, webhookSecret string) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: webhookSecret,
		Clients:       &stripeClients{intents: &stubPaymentIntentAPI{}},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func stripeSignatureHeader(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProviderVerifyWebhookSignature(t *testing.T) {
	const secret = "whsec_test_secret"
	provider := newWebhookTestStripeProvider(t, secret)

	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	header := stripeSignatureHeader(secret, payload, time.Now())

	if err := provider.VerifyWebhookSignature(payload, header); err != nil {
		t.Fatalf("VerifyWebhookSignature: %v", err)
	}

	wrong := stripeSignatureHeader("whsec_other_secret", payload, time.Now())
	if err := provider.VerifyWebhookSignature(payload, wrong); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestStripeProviderVerifyWebhookSignatureNeedsSecret(t *testing.T) {
	provider := newWebhookTestStripeProvider(t, "")
	if err := provider.VerifyWebhookSignature([]byte(`{}`), "t=1,v1=aa"); err == nil {
		t.Fatal("expected error without a configured webhook secret")
	}
}
