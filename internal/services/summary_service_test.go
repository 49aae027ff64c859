package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
)

func newTestSummaryService(t *testing.T, accounts *stubCartRepository, sessions *stubSessionCartRepository, coupons *stubCouponRepository, baseline domain.ChargeBaseline, now time.Time) SummaryService {
	t.Helper()
	svc, err := NewSummaryService(SummaryServiceDeps{
		Accounts: accounts,
		Sessions: sessions,
		Coupons:  coupons,
		Baseline: baseline,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSummaryService: %v", err)
	}
	return svc
}

func TestSummaryServiceEmptyCartZeroSummary(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSummaryService(t, &stubCartRepository{}, &stubSessionCartRepository{}, &stubCouponRepository{}, domain.ChargeBaseline{PackagingCharge: 20000}, now)

	summary, err := svc.Summarize(context.Background(), CartScope{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != (ChargeSummary{}) {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestSummaryServicePackagingReportedNotCharged(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	accounts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items:  []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 2, UnitPrice: 199900}},
			}, nil
		},
	}
	svc := newTestSummaryService(t, accounts, &stubSessionCartRepository{}, &stubCouponRepository{}, domain.ChargeBaseline{PackagingCharge: 20000}, now)

	summary, err := svc.Summarize(context.Background(), CartScope{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Subtotal != 399800 {
		t.Fatalf("unexpected subtotal %d", summary.Subtotal)
	}
	if summary.PackagingCharge != 20000 {
		t.Fatalf("unexpected packaging charge %d", summary.PackagingCharge)
	}
	if summary.Total != 399800 {
		t.Fatalf("packaging must not be folded into total, got %d", summary.Total)
	}
}

func TestSummaryServicePercentageCoupon(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	coupons := &stubCouponRepository{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return activeTestCoupon(code), nil
		},
	}
	svc := newTestSummaryService(t, &stubCartRepository{}, &stubSessionCartRepository{}, coupons, domain.ChargeBaseline{}, now)

	summary, err := svc.SummarizeCart(context.Background(), domain.Cart{
		CouponCode: "SAVE10",
		Items:      []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 2, UnitPrice: 199900}},
	})
	if err != nil {
		t.Fatalf("SummarizeCart: %v", err)
	}
	if summary.Discount != 39980 {
		t.Fatalf("unexpected discount %d", summary.Discount)
	}
	if summary.Total != 359820 {
		t.Fatalf("unexpected total %d", summary.Total)
	}
}

func TestSummaryServiceDeliveryCouponZeroesDelivery(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	coupons := &stubCouponRepository{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{
				Code:          code,
				Kind:          domain.CouponKindDelivery,
				DiscountKind:  domain.DiscountKindPercentage,
				DiscountValue: 100,
				Status:        domain.CouponStatusActive,
			}, nil
		},
	}
	svc := newTestSummaryService(t, &stubCartRepository{}, &stubSessionCartRepository{}, coupons, domain.ChargeBaseline{DeliveryCharge: 9900}, now)

	summary, err := svc.SummarizeCart(context.Background(), domain.Cart{
		CouponCode: "FREESHIP",
		Items:      []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 1, UnitPrice: 199900}},
	})
	if err != nil {
		t.Fatalf("SummarizeCart: %v", err)
	}
	if summary.DeliveryCharge != 0 {
		t.Fatalf("expected waived delivery, got %d", summary.DeliveryCharge)
	}
	if summary.Total != 199900 {
		t.Fatalf("unexpected total %d", summary.Total)
	}
}

func TestSummaryServiceSkipsStaleCoupon(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	var logged []string
	svc, err := NewSummaryService(SummaryServiceDeps{
		Accounts: &stubCartRepository{},
		Sessions: &stubSessionCartRepository{},
		Coupons:  &stubCouponRepository{},
		Clock:    func() time.Time { return now },
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewSummaryService: %v", err)
	}

	summary, err := svc.SummarizeCart(context.Background(), domain.Cart{
		CouponCode: "GONE",
		Items:      []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 1, UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("SummarizeCart: %v", err)
	}
	if summary.Discount != 0 {
		t.Fatalf("expected no discount for stale coupon, got %d", summary.Discount)
	}
	if len(logged) != 1 || logged[0] != "summary.coupon_skipped" {
		t.Fatalf("expected coupon skip log, got %v", logged)
	}
}

func TestSummaryServiceBackendErrorSurfaces(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	coupons := &stubCouponRepository{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{}, stubRepoError{unavailable: true}
		},
	}
	svc := newTestSummaryService(t, &stubCartRepository{}, &stubSessionCartRepository{}, coupons, domain.ChargeBaseline{}, now)

	_, err := svc.SummarizeCart(context.Background(), domain.Cart{
		CouponCode: "SAVE10",
		Items:      []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 1, UnitPrice: 100}},
	})
	if !errors.Is(err, ErrSummaryUnavailable) {
		t.Fatalf("expected ErrSummaryUnavailable, got %v", err)
	}
}

func TestSummaryServiceFixedCouponClampedToSubtotal(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	coupons := &stubCouponRepository{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{
				Code:          code,
				Kind:          domain.CouponKindOther,
				DiscountKind:  domain.DiscountKindFixed,
				DiscountValue: 500000,
				Status:        domain.CouponStatusActive,
			}, nil
		},
	}
	svc := newTestSummaryService(t, &stubCartRepository{}, &stubSessionCartRepository{}, coupons, domain.ChargeBaseline{}, now)

	summary, err := svc.SummarizeCart(context.Background(), domain.Cart{
		CouponCode: "BIG",
		Items:      []domain.LineItem{{ID: "line-1", SourceID: "s", Quantity: 1, UnitPrice: 199900}},
	})
	if err != nil {
		t.Fatalf("SummarizeCart: %v", err)
	}
	if summary.Discount != 199900 {
		t.Fatalf("expected discount clamped to subtotal, got %d", summary.Discount)
	}
	if summary.Total != 0 {
		t.Fatalf("unexpected total %d", summary.Total)
	}
}
