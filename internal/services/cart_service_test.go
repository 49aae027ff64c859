package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = stubRepoError{notFound: true}

type stubCartRepository struct {
	upsertFunc    func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	getFunc       func(ctx context.Context, userID string) (domain.Cart, error)
	replaceFunc   func(ctx context.Context, userID string, items []domain.LineItem) (domain.Cart, error)
	setCouponFunc func(ctx context.Context, userID string, code string) (domain.Cart, error)
	watchFunc     func(ctx context.Context, userID string) (repositories.CartWatcher, error)
}

func (s *stubCartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFunc == nil {
		return cart, nil
	}
	return s.upsertFunc(ctx, cart)
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc == nil {
		return domain.Cart{}, errStubNotFound
	}
	return s.getFunc(ctx, userID)
}

func (s *stubCartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.LineItem) (domain.Cart, error) {
	if s.replaceFunc == nil {
		return domain.Cart{UserID: userID, Items: items}, nil
	}
	return s.replaceFunc(ctx, userID, items)
}

func (s *stubCartRepository) SetCoupon(ctx context.Context, userID string, code string) (domain.Cart, error) {
	if s.setCouponFunc == nil {
		return domain.Cart{UserID: userID, CouponCode: code}, nil
	}
	return s.setCouponFunc(ctx, userID, code)
}

func (s *stubCartRepository) Watch(ctx context.Context, userID string) (repositories.CartWatcher, error) {
	if s.watchFunc == nil {
		return nil, errors.New("watch not stubbed")
	}
	return s.watchFunc(ctx, userID)
}

type stubSessionCartRepository struct {
	getFunc     func(ctx context.Context, sessionID string) (domain.Cart, error)
	replaceFunc func(ctx context.Context, sessionID string, cart domain.Cart) (domain.Cart, error)
	deleteFunc  func(ctx context.Context, sessionID string) error
}

func (s *stubSessionCartRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	if s.getFunc == nil {
		return domain.Cart{}, errStubNotFound
	}
	return s.getFunc(ctx, sessionID)
}

func (s *stubSessionCartRepository) Replace(ctx context.Context, sessionID string, cart domain.Cart) (domain.Cart, error) {
	if s.replaceFunc == nil {
		return cart, nil
	}
	return s.replaceFunc(ctx, sessionID, cart)
}

func (s *stubSessionCartRepository) Delete(ctx context.Context, sessionID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, sessionID)
}

func newTestCartService(t *testing.T, accounts repositories.CartRepository, sessions repositories.SessionCartRepository, now time.Time) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Accounts: accounts,
		Sessions: sessions,
		Schedule: domain.PricingSchedule{
			Default: domain.UnitSurchargeSchedule{TwoUnitSurcharge: 50000, PerAdditionalUnit: 40000},
			Tiers: map[string]domain.UnitSurchargeSchedule{
				"a3": {TwoUnitSurcharge: 70000, PerAdditionalUnit: 55000},
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceGetCartReturnsEmptyWhenAbsent(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepository{}, &stubSessionCartRepository{}, now)

	cart, err := svc.GetCart(context.Background(), CartScope{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.UserID != "user-1" {
		t.Fatalf("unexpected user id %q", cart.UserID)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
	if cart.Currency != "INR" {
		t.Fatalf("expected INR currency, got %q", cart.Currency)
	}
}

func TestCartServiceGetCartRejectsEmptyScope(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepository{}, &stubSessionCartRepository{}, now)

	if _, err := svc.GetCart(context.Background(), CartScope{}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemComputesUnitPrice(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	var saved domain.Cart
	accounts := &stubCartRepository{
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Scope:     CartScope{UserID: "user-1"},
		SourceID:  "sketch-a4",
		Title:     "A4 Pencil Sketch",
		BasePrice: 199900,
		Variant:   &domain.LineItemVariant{Name: "A3", PriceAdjustment: 60000},
		UnitCount: 2,
		AddOnCost: 30000,
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	// 199900 base + 60000 variant + 70000 A3-tier two-subject surcharge + 30000 add-on
	if got := cart.Items[0].UnitPrice; got != 359900 {
		t.Fatalf("unexpected unit price %d", got)
	}
	if saved.UpdatedAt != now {
		t.Fatalf("expected updatedAt stamped to clock, got %v", saved.UpdatedAt)
	}
}

func TestCartServiceAddItemFallsBackToDefaultSchedule(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	accounts := &stubCartRepository{
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Scope:     CartScope{UserID: "user-1"},
		SourceID:  "sketch-a5",
		Title:     "A5 Pencil Sketch",
		BasePrice: 99900,
		Variant:   &domain.LineItemVariant{Name: "A5", PriceAdjustment: 0},
		UnitCount: 2,
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	// 99900 base + 50000 default two-subject surcharge; A5 has no tier entry.
	if got := cart.Items[0].UnitPrice; got != 149900 {
		t.Fatalf("unexpected unit price %d", got)
	}
}

func TestCartServiceAddItemMergesIdenticalLines(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	existing := domain.Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "INR",
		Items: []domain.LineItem{
			{
				ID:        "sketch-a4-1700000000000",
				SourceID:  "sketch-a4",
				Title:     "A4 Pencil Sketch",
				UnitPrice: 199900,
				Quantity:  1,
			},
		},
	}
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return existing, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Scope:     CartScope{UserID: "user-1"},
		SourceID:  "sketch-a4",
		Title:     "A4 Pencil Sketch",
		BasePrice: 199900,
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected merged single line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemDifferentCustomizationStaysSeparate(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	existing := domain.Cart{
		ID:       "sess-1",
		Currency: "INR",
		Items: []domain.LineItem{
			{
				ID:                    "sketch-a4-1700000000000",
				SourceID:              "sketch-a4",
				Title:                 "A4 Pencil Sketch",
				UnitPrice:             199900,
				Quantity:              1,
				CustomizationImageURL: "https://cdn.example.com/photo-1.jpg",
			},
		},
	}
	sessions := &stubSessionCartRepository{
		getFunc: func(ctx context.Context, sessionID string) (domain.Cart, error) {
			return existing, nil
		},
	}
	svc := newTestCartService(t, &stubCartRepository{}, sessions, now)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Scope:                 CartScope{SessionID: "sess-1"},
		SourceID:              "sketch-a4",
		Title:                 "A4 Pencil Sketch",
		BasePrice:             199900,
		CustomizationImageURL: "https://cdn.example.com/photo-2.jpg",
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(cart.Items))
	}
}

func TestCartServiceAddItemRejectsBadInput(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepository{}, &stubSessionCartRepository{}, now)

	cases := []struct {
		name string
		cmd  AddCartItemCommand
	}{
		{"missing source", AddCartItemCommand{Scope: CartScope{UserID: "u"}, Title: "Sketch", BasePrice: 100}},
		{"missing title", AddCartItemCommand{Scope: CartScope{UserID: "u"}, SourceID: "s", BasePrice: 100}},
		{"negative price", AddCartItemCommand{Scope: CartScope{UserID: "u"}, SourceID: "s", Title: "Sketch", BasePrice: -1}},
		{"excess quantity", AddCartItemCommand{Scope: CartScope{UserID: "u"}, SourceID: "s", Title: "Sketch", BasePrice: 100, Quantity: 51}},
		{"negative add-on", AddCartItemCommand{Scope: CartScope{UserID: "u"}, SourceID: "s", Title: "Sketch", BasePrice: 100, AddOnCost: -5}},
		{"unnamed variant", AddCartItemCommand{Scope: CartScope{UserID: "u"}, SourceID: "s", Title: "Sketch", BasePrice: 100, Variant: &domain.LineItemVariant{}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddItem(context.Background(), tc.cmd); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected ErrCartInvalidInput, got %v", err)
			}
		})
	}
}

func TestCartServiceRemoveItemMissingLeavesCartUntouched(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	upserts := 0
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: userID, UserID: userID, Items: []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 1}}}, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			upserts++
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{Scope: CartScope{UserID: "user-1"}, ItemID: "line-404"})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ID != "line-1" {
		t.Fatalf("expected cart returned unchanged, got %+v", cart.Items)
	}
	if upserts != 0 {
		t.Fatalf("expected no writes, got %d", upserts)
	}
}

func TestCartServiceRemoveItemDeletesLine(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.LineItem{
					{ID: "line-1", SourceID: "a", Quantity: 1},
					{ID: "line-2", SourceID: "b", Quantity: 2},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{Scope: CartScope{UserID: "user-1"}, ItemID: "line-1"})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ID != "line-2" {
		t.Fatalf("unexpected items after removal: %+v", cart.Items)
	}
}

func TestCartServiceClearCartSessionDeletesDocument(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	deleted := ""
	sessions := &stubSessionCartRepository{
		deleteFunc: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return nil
		},
	}
	svc := newTestCartService(t, &stubCartRepository{}, sessions, now)

	if err := svc.ClearCart(context.Background(), CartScope{SessionID: "sess-9"}); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if deleted != "sess-9" {
		t.Fatalf("expected session delete, got %q", deleted)
	}
}

func TestCartServiceClearCartAccountDropsItemsAndCoupon(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	var saved domain.Cart
	accounts := &stubCartRepository{
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	if err := svc.ClearCart(context.Background(), CartScope{UserID: "user-1"}); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if len(saved.Items) != 0 || saved.CouponCode != "" {
		t.Fatalf("expected empty cart write, got %+v", saved)
	}
}

func TestCartServiceMigrateOnSignInMergesAndDeletesSession(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	sessionCart := domain.Cart{
		ID:         "sess-1",
		SessionID:  "sess-1",
		Currency:   "INR",
		CouponCode: "SESSION10",
		Items: []domain.LineItem{
			{ID: "line-s", SourceID: "sketch-a4", Quantity: 1, UnitPrice: 199900},
		},
	}
	accountCart := domain.Cart{
		ID:         "user-1",
		UserID:     "user-1",
		Currency:   "INR",
		CouponCode: "ACCOUNT20",
		Items: []domain.LineItem{
			{ID: "line-a", SourceID: "sketch-a3", Quantity: 1, UnitPrice: 259900},
		},
	}

	sessionDeleted := false
	sessions := &stubSessionCartRepository{
		getFunc: func(ctx context.Context, sessionID string) (domain.Cart, error) {
			return sessionCart, nil
		},
		deleteFunc: func(ctx context.Context, sessionID string) error {
			sessionDeleted = true
			return nil
		},
	}
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return accountCart, nil
		},
	}
	svc := newTestCartService(t, accounts, sessions, now)

	merged, err := svc.MigrateOnSignIn(context.Background(), MigrateCartCommand{SessionID: "sess-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("MigrateOnSignIn: %v", err)
	}
	if len(merged.Items) != 2 {
		t.Fatalf("expected 2 merged items, got %d", len(merged.Items))
	}
	if merged.CouponCode != "ACCOUNT20" {
		t.Fatalf("account coupon should win, got %q", merged.CouponCode)
	}
	if !sessionDeleted {
		t.Fatal("expected session cart deletion")
	}
}

func TestCartServiceMigrateOnSignInIdempotentWhenSessionGone(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	accountCart := domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.LineItem{
			{ID: "line-a", SourceID: "sketch-a3", Quantity: 1, UnitPrice: 259900},
		},
	}
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return accountCart, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			t.Fatal("no write expected when session cart is gone")
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	cart, err := svc.MigrateOnSignIn(context.Background(), MigrateCartCommand{SessionID: "sess-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("MigrateOnSignIn: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected existing account cart, got %d items", len(cart.Items))
	}
}

func TestCartServiceMigrateOnSignInRetryDoesNotDuplicateItems(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	sessionCart := domain.Cart{
		ID:        "sess-1",
		SessionID: "sess-1",
		Currency:  "INR",
		Items: []domain.LineItem{
			{ID: "line-s", SourceID: "sketch-a4", Quantity: 1, UnitPrice: 199900},
		},
	}

	var accountCart domain.Cart
	accountCart.ID = "user-1"
	accountCart.UserID = "user-1"

	sessionGone := false
	deleteCalls := 0
	sessions := &stubSessionCartRepository{
		getFunc: func(ctx context.Context, sessionID string) (domain.Cart, error) {
			if sessionGone {
				return domain.Cart{}, stubRepoError{notFound: true}
			}
			return sessionCart, nil
		},
		deleteFunc: func(ctx context.Context, sessionID string) error {
			deleteCalls++
			if deleteCalls == 1 {
				return stubRepoError{unavailable: true}
			}
			sessionGone = true
			return nil
		},
	}
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return accountCart, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			accountCart = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, accounts, sessions, now)

	if _, err := svc.MigrateOnSignIn(context.Background(), MigrateCartCommand{SessionID: "sess-1", UserID: "user-1"}); err == nil {
		t.Fatal("expected first migration attempt to fail on session delete")
	}

	merged, err := svc.MigrateOnSignIn(context.Background(), MigrateCartCommand{SessionID: "sess-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("MigrateOnSignIn retry: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("expected 1 item after retried migration, got %d", len(merged.Items))
	}
	if len(accountCart.Items) != 1 {
		t.Fatalf("expected 1 persisted item after retried migration, got %d", len(accountCart.Items))
	}
	if !sessionGone {
		t.Fatal("expected session cart deletion on retry")
	}
}

func TestCartServiceTranslatesRepositoryUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{unavailable: true}
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	if _, err := svc.GetCart(context.Background(), CartScope{UserID: "user-1"}); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
}

type stubCartWatcher struct {
	snapshots chan domain.Cart
	stopped   bool
}

func (w *stubCartWatcher) Next(ctx context.Context) (domain.Cart, error) {
	select {
	case cart := <-w.snapshots:
		return cart, nil
	case <-ctx.Done():
		return domain.Cart{}, ctx.Err()
	}
}

func (w *stubCartWatcher) Stop() { w.stopped = true }

func TestCartServiceWatchDeliversSnapshots(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	watcher := &stubCartWatcher{snapshots: make(chan domain.Cart, 1)}
	accounts := &stubCartRepository{
		watchFunc: func(ctx context.Context, userID string) (repositories.CartWatcher, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected watch user %q", userID)
			}
			return watcher, nil
		},
	}
	svc := newTestCartService(t, accounts, &stubSessionCartRepository{}, now)

	stream, err := svc.Watch(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stream.Stop()

	watcher.snapshots <- domain.Cart{ID: "user-1", UserID: "user-1", CouponCode: "SAVE10"}
	cart, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if cart.CouponCode != "SAVE10" {
		t.Fatalf("unexpected snapshot %#v", cart)
	}
}

func TestCartServiceWatchRequiresUser(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepository{}, &stubSessionCartRepository{}, now)

	if _, err := svc.Watch(context.Background(), "   "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
