package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkaar/api/internal/platform/auth"
	"github.com/kalamkaar/api/internal/services"
)

type stubCartService struct {
	getCartFunc    func(ctx context.Context, scope services.CartScope) (services.Cart, error)
	addItemFunc    func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	removeItemFunc func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearCartFunc  func(ctx context.Context, scope services.CartScope) error
	migrateFunc    func(ctx context.Context, cmd services.MigrateCartCommand) (services.Cart, error)
	watchFunc      func(ctx context.Context, userID string) (services.CartStream, error)
}

func (s *stubCartService) GetCart(ctx context.Context, scope services.CartScope) (services.Cart, error) {
	if s.getCartFunc != nil {
		return s.getCartFunc(ctx, scope)
	}
	return services.Cart{}, errors.New("GetCart not stubbed")
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addItemFunc != nil {
		return s.addItemFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("AddItem not stubbed")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeItemFunc != nil {
		return s.removeItemFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("RemoveItem not stubbed")
}

func (s *stubCartService) ClearCart(ctx context.Context, scope services.CartScope) error {
	if s.clearCartFunc != nil {
		return s.clearCartFunc(ctx, scope)
	}
	return errors.New("ClearCart not stubbed")
}

func (s *stubCartService) MigrateOnSignIn(ctx context.Context, cmd services.MigrateCartCommand) (services.Cart, error) {
	if s.migrateFunc != nil {
		return s.migrateFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("MigrateOnSignIn not stubbed")
}

func (s *stubCartService) Watch(ctx context.Context, userID string) (services.CartStream, error) {
	if s.watchFunc != nil {
		return s.watchFunc(ctx, userID)
	}
	return nil, errors.New("Watch not stubbed")
}

type stubCartStream struct {
	snapshots []services.Cart
	stopped   bool
}

func (s *stubCartStream) Next(ctx context.Context) (services.Cart, error) {
	if len(s.snapshots) == 0 {
		return services.Cart{}, context.Canceled
	}
	cart := s.snapshots[0]
	s.snapshots = s.snapshots[1:]
	return cart, nil
}

func (s *stubCartStream) Stop() { s.stopped = true }

type stubCouponService struct {
	applyFunc  func(ctx context.Context, cmd services.ApplyCouponCommand) (services.CouponApplication, error)
	removeFunc func(ctx context.Context, scope services.CartScope) (services.Cart, error)
}

func (s *stubCouponService) Apply(ctx context.Context, cmd services.ApplyCouponCommand) (services.CouponApplication, error) {
	if s.applyFunc != nil {
		return s.applyFunc(ctx, cmd)
	}
	return services.CouponApplication{}, errors.New("Apply not stubbed")
}

func (s *stubCouponService) Remove(ctx context.Context, scope services.CartScope) (services.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, scope)
	}
	return services.Cart{}, errors.New("Remove not stubbed")
}

type stubSummaryService struct {
	summarizeFunc func(ctx context.Context, scope services.CartScope) (services.ChargeSummary, error)
}

func (s *stubSummaryService) Summarize(ctx context.Context, scope services.CartScope) (services.ChargeSummary, error) {
	if s.summarizeFunc != nil {
		return s.summarizeFunc(ctx, scope)
	}
	return services.ChargeSummary{}, errors.New("Summarize not stubbed")
}

func (s *stubSummaryService) SummarizeCart(ctx context.Context, cart services.Cart) (services.ChargeSummary, error) {
	return services.ChargeSummary{}, errors.New("SummarizeCart not stubbed")
}

func newCartRouter(carts services.CartService, coupons services.CouponService, summaries services.SummaryService) chi.Router {
	handler := NewCartHandlers(nil, carts, coupons, summaries)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func signedInRequest(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestCartHandlersGetCartForUser(t *testing.T) {
	updated := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	service := &stubCartService{
		getCartFunc: func(ctx context.Context, scope services.CartScope) (services.Cart, error) {
			if scope.UserID != "user-7" {
				t.Fatalf("unexpected scope %+v", scope)
			}
			return services.Cart{
				ID:       "user-7",
				UserID:   "user-7",
				Currency: "INR",
				Items: []services.LineItem{
					{
						ID:        "sketch-1-1712050000000",
						SourceID:  "sketch-1",
						Title:     "Couple Portrait",
						UnitPrice: 199900,
						Quantity:  2,
						Variant:   &services.LineItemVariant{Name: "A3", PriceAdjustment: 60000},
					},
				},
				CouponCode: "SAVE10",
				UpdatedAt:  updated,
			}, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cc)
	}
	if etag := rr.Header().Get("ETag"); !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("expected weak ETag, got %q", etag)
	}

	var body struct {
		Cart struct {
			ID         string `json:"id"`
			Currency   string `json:"currency"`
			ItemsCount int    `json:"items_count"`
			CouponCode string `json:"coupon_code"`
			Items      []struct {
				SourceID  string `json:"source_id"`
				UnitPrice int64  `json:"unit_price"`
				Variant   *struct {
					Name string `json:"name"`
				} `json:"variant"`
			} `json:"items"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Cart.ItemsCount != 1 || body.Cart.CouponCode != "SAVE10" {
		t.Fatalf("unexpected cart payload: %+v", body.Cart)
	}
	if body.Cart.Items[0].Variant == nil || body.Cart.Items[0].Variant.Name != "A3" {
		t.Fatalf("expected variant in payload, got %+v", body.Cart.Items[0])
	}
}

func TestCartHandlersGetCartUsesSessionHeader(t *testing.T) {
	service := &stubCartService{
		getCartFunc: func(ctx context.Context, scope services.CartScope) (services.Cart, error) {
			if scope.SessionID != "sess-42" || scope.UserID != "" {
				t.Fatalf("unexpected scope %+v", scope)
			}
			return services.Cart{ID: "sess-42", SessionID: "sess-42", Currency: "INR", Items: []services.LineItem{}}, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(sessionHeader, "sess-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersGetCartWithoutScope(t *testing.T) {
	router := newCartRouter(&stubCartService{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "session_required") {
		t.Fatalf("expected session_required error, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			if cmd.Scope.UserID != "user-7" {
				t.Fatalf("unexpected scope %+v", cmd.Scope)
			}
			if cmd.SourceID != "sketch-1" || cmd.BasePrice != 199900 || cmd.UnitCount != 2 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.Variant == nil || cmd.Variant.PriceAdjustment != 60000 {
				t.Fatalf("expected variant on command, got %+v", cmd.Variant)
			}
			return services.Cart{ID: "user-7", UserID: "user-7", Currency: "INR", Items: []services.LineItem{{ID: "sketch-1-1"}}}, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	payload := `{
		"source_id": "sketch-1",
		"title": "Couple Portrait",
		"base_price": 199900,
		"unit_count": 2,
		"quantity": 1,
		"variant": {"name": "A3", "price_adjustment": 60000}
	}`
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(payload)), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItemRejectsMalformedBody(t *testing.T) {
	router := newCartRouter(&stubCartService{}, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader("{not json")), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItemAbsentIsNoOp(t *testing.T) {
	service := &stubCartService{
		removeItemFunc: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			return services.Cart{UserID: "user-7", Currency: "INR"}, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodDelete, "/cart/items/missing-item", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersWatchStreamsSnapshots(t *testing.T) {
	stream := &stubCartStream{
		snapshots: []services.Cart{
			{ID: "user-7", UserID: "user-7", Currency: "INR"},
			{ID: "user-7", UserID: "user-7", Currency: "INR", Items: []services.LineItem{{ID: "line-1", SourceID: "sketch-a4", Quantity: 1, UnitPrice: 199900}}},
		},
	}
	service := &stubCartService{
		watchFunc: func(ctx context.Context, userID string) (services.CartStream, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user %q", userID)
			}
			return stream, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodGet, "/cart/watch", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", ct)
	}
	body := rr.Body.String()
	if got := strings.Count(body, "event: cart"); got != 2 {
		t.Fatalf("expected 2 cart events, got %d in %q", got, body)
	}
	if !strings.Contains(body, "line-1") {
		t.Fatalf("expected second snapshot in stream, got %q", body)
	}
	if !stream.stopped {
		t.Fatal("expected stream stopped after handler returned")
	}
}

func TestCartHandlersWatchRequiresSignIn(t *testing.T) {
	router := newCartRouter(&stubCartService{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/cart/watch", nil)
	req.Header.Set(sessionHeader, "sess-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearCartFunc: func(ctx context.Context, scope services.CartScope) error {
			cleared = true
			return nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodDelete, "/cart", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatal("expected clear to be invoked")
	}
}

func TestCartHandlersMigrateUsesHeaderSession(t *testing.T) {
	service := &stubCartService{
		migrateFunc: func(ctx context.Context, cmd services.MigrateCartCommand) (services.Cart, error) {
			if cmd.SessionID != "sess-42" || cmd.UserID != "user-7" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.Cart{ID: "user-7", UserID: "user-7", Currency: "INR", Items: []services.LineItem{}}, nil
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/migrate", nil), "user-7")
	req.Header.Set(sessionHeader, "sess-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersMigrateRequiresSession(t *testing.T) {
	router := newCartRouter(&stubCartService{}, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/migrate", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersSummary(t *testing.T) {
	summaries := &stubSummaryService{
		summarizeFunc: func(ctx context.Context, scope services.CartScope) (services.ChargeSummary, error) {
			return services.ChargeSummary{
				Subtotal:        399800,
				DeliveryCharge:  0,
				PackagingCharge: 20000,
				Discount:        39980,
				Total:           359820,
			}, nil
		},
	}

	router := newCartRouter(&stubCartService{}, nil, summaries)
	req := signedInRequest(httptest.NewRequest(http.MethodGet, "/cart/summary", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Summary summaryPayload `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Summary.Total != 359820 || body.Summary.PackagingCharge != 20000 {
		t.Fatalf("unexpected summary payload: %+v", body.Summary)
	}
}

func TestCartHandlersApplyCoupon(t *testing.T) {
	coupons := &stubCouponService{
		applyFunc: func(ctx context.Context, cmd services.ApplyCouponCommand) (services.CouponApplication, error) {
			if cmd.Code != "save10" {
				t.Fatalf("unexpected code %q", cmd.Code)
			}
			return services.CouponApplication{
				Cart:    services.Cart{ID: "user-7", UserID: "user-7", Currency: "INR", CouponCode: "SAVE10", Items: []services.LineItem{}},
				Coupon:  services.Coupon{Code: "SAVE10", Kind: services.CouponKind("other"), DiscountValue: 10},
				Summary: services.ChargeSummary{Subtotal: 399800, Discount: 39980, Total: 359820},
			}, nil
		},
	}

	router := newCartRouter(&stubCartService{}, coupons, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"save10"}`)), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Coupon  couponPayload  `json:"coupon"`
		Summary summaryPayload `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Coupon.Code != "SAVE10" || body.Summary.Discount != 39980 {
		t.Fatalf("unexpected coupon payload: %+v", body)
	}
}

func TestCartHandlersApplyCouponInactive(t *testing.T) {
	coupons := &stubCouponService{
		applyFunc: func(ctx context.Context, cmd services.ApplyCouponCommand) (services.CouponApplication, error) {
			return services.CouponApplication{}, services.ErrCouponInactive
		},
	}

	router := newCartRouter(&stubCartService{}, coupons, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"EXPIRED"}`)), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveCoupon(t *testing.T) {
	coupons := &stubCouponService{
		removeFunc: func(ctx context.Context, scope services.CartScope) (services.Cart, error) {
			return services.Cart{ID: "user-7", UserID: "user-7", Currency: "INR", Items: []services.LineItem{}}, nil
		},
	}

	router := newCartRouter(&stubCartService{}, coupons, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodDelete, "/cart/coupon", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	service := &stubCartService{
		getCartFunc: func(ctx context.Context, scope services.CartScope) (services.Cart, error) {
			return services.Cart{}, services.ErrCartUnavailable
		},
	}

	router := newCartRouter(service, nil, nil)
	req := signedInRequest(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
