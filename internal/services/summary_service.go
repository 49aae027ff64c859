package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

// ErrSummaryUnavailable indicates the summary cannot be computed because a backend is unreachable.
var ErrSummaryUnavailable = errors.New("summary service: unavailable")

// ErrSummaryInvalidInput indicates the caller supplied invalid input.
var ErrSummaryInvalidInput = errors.New("summary service: invalid input")

// SummaryServiceDeps wires cart and coupon lookups plus the flat charge baseline.
type SummaryServiceDeps struct {
	Accounts repositories.CartRepository
	Sessions repositories.SessionCartRepository
	Coupons  repositories.CouponRepository
	Baseline domain.ChargeBaseline
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type summaryService struct {
	accounts repositories.CartRepository
	sessions repositories.SessionCartRepository
	coupons  repositories.CouponRepository
	baseline domain.ChargeBaseline
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ SummaryService = (*summaryService)(nil)

// NewSummaryService constructs a SummaryService enforcing dependency validation.
func NewSummaryService(deps SummaryServiceDeps) (SummaryService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("summary service: account cart repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("summary service: session cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("summary service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &summaryService{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		coupons:  deps.Coupons,
		baseline: deps.Baseline,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Summarize loads the scoped cart and computes its charge summary.
func (s *summaryService) Summarize(ctx context.Context, scope CartScope) (ChargeSummary, error) {
	if s == nil || s.accounts == nil {
		return ChargeSummary{}, ErrSummaryUnavailable
	}
	if err := validateScope(scope); err != nil {
		return ChargeSummary{}, ErrSummaryInvalidInput
	}

	var (
		cart domain.Cart
		err  error
	)
	if scope.IsAccount() {
		cart, err = s.accounts.GetCart(ctx, scope.UserID)
	} else {
		cart, err = s.sessions.Get(ctx, scope.SessionID)
	}
	if err != nil {
		if isRepoNotFound(err) {
			return ChargeSummary{}, nil
		}
		return ChargeSummary{}, ErrSummaryUnavailable
	}

	return s.SummarizeCart(ctx, cart)
}

// SummarizeCart computes the charge summary for an already loaded cart. A
// pinned coupon that has since expired or been disabled is skipped rather
// than failing the whole summary.
func (s *summaryService) SummarizeCart(ctx context.Context, cart Cart) (ChargeSummary, error) {
	if s == nil {
		return ChargeSummary{}, ErrSummaryUnavailable
	}
	if len(cart.Items) == 0 {
		return ChargeSummary{}, nil
	}

	var coupon *domain.Coupon
	if code := strings.TrimSpace(cart.CouponCode); code != "" {
		found, err := s.coupons.FindByCode(ctx, code)
		switch {
		case err == nil && found.ActiveAt(s.now()):
			coupon = &found
		case err == nil:
			s.logger(ctx, "summary.coupon_skipped", map[string]any{
				"code":   found.Code,
				"reason": "inactive",
			})
		case isRepoNotFound(err):
			s.logger(ctx, "summary.coupon_skipped", map[string]any{
				"code":   code,
				"reason": "not_found",
			})
		default:
			return ChargeSummary{}, ErrSummaryUnavailable
		}
	}

	return domain.Summarize(cart.Items, coupon, s.baseline), nil
}
