package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
)

func paidTestOrder() domain.Order {
	return domain.Order{
		ID:       "order-1",
		UserID:   "user-1",
		Status:   domain.OrderStatusPaid,
		Currency: "INR",
		Items: []domain.OrderLineItem{
			{LineItemID: "line-1", Title: "A4 Pencil Sketch", Quantity: 2, UnitPrice: 199900, Total: 399800},
		},
		Summary: domain.ChargeSummary{Subtotal: 399800, Total: 399800},
		Shipping: domain.ShippingDetails{
			Name:  "Asha Verma",
			Email: "asha@example.com",
		},
		Payment: &domain.OrderPayment{
			PaymentID:  "pay_123",
			VerifiedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestNotificationServiceSendsConfirmation(t *testing.T) {
	var got map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc, err := NewNotificationService(NotificationServiceDeps{
		Endpoint:  server.URL,
		AuthToken: "email-token",
		FromName:  "Kalamkaar",
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	svc.SendOrderConfirmation(context.Background(), paidTestOrder())

	if auth != "Bearer email-token" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got["to"] != "asha@example.com" {
		t.Fatalf("unexpected recipient %v", got["to"])
	}
	if got["orderId"] != "order-1" {
		t.Fatalf("unexpected order id %v", got["orderId"])
	}
	if got["amount"] != float64(399800) {
		t.Fatalf("unexpected amount %v", got["amount"])
	}
}

func TestNotificationServiceSkipsWithoutEmail(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	svc, err := NewNotificationService(NotificationServiceDeps{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	order := paidTestOrder()
	order.Shipping.Email = ""
	svc.SendOrderConfirmation(context.Background(), order)

	if calls != 0 {
		t.Fatalf("expected no delivery without recipient, got %d calls", calls)
	}
}

func TestNotificationServiceSwallowsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var logged []string
	svc, err := NewNotificationService(NotificationServiceDeps{
		Endpoint: server.URL,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	svc.SendOrderConfirmation(context.Background(), paidTestOrder())

	if len(logged) != 1 || logged[0] != "notifications.send_rejected" {
		t.Fatalf("expected rejection log, got %v", logged)
	}
}

func TestNotificationServiceRequiresEndpoint(t *testing.T) {
	if _, err := NewNotificationService(NotificationServiceDeps{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
