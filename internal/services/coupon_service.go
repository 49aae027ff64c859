package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

// ErrCouponInvalidInput indicates the caller supplied invalid input.
var ErrCouponInvalidInput = errors.New("coupon service: invalid input")

// ErrCouponNotFound indicates no coupon exists for the supplied code.
var ErrCouponNotFound = errors.New("coupon service: not found")

// ErrCouponInactive indicates the coupon exists but is disabled or outside its validity window.
var ErrCouponInactive = errors.New("coupon service: inactive")

// ErrCouponUnavailable indicates the backend cannot be reached.
var ErrCouponUnavailable = errors.New("coupon service: unavailable")

// CouponServiceDeps wires lookup and cart pinning dependencies for coupon operations.
type CouponServiceDeps struct {
	Coupons    repositories.CouponRepository
	Accounts   repositories.CartRepository
	Sessions   repositories.SessionCartRepository
	Summarizer SummaryService
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
	// OnApplied runs after a successful application, off the request path.
	// Storefronts use it for celebratory UI pushes; failures are invisible.
	OnApplied func(domain.Coupon)
}

type couponService struct {
	coupons    repositories.CouponRepository
	accounts   repositories.CartRepository
	sessions   repositories.SessionCartRepository
	summarizer SummaryService
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
	onApplied  func(domain.Coupon)
}

var _ CouponService = (*couponService)(nil)

// NewCouponService constructs a CouponService enforcing dependency validation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("coupon service: account cart repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("coupon service: session cart repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("coupon service: clock is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons:    deps.Coupons,
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		summarizer: deps.Summarizer,
		now:        func() time.Time { return deps.Clock().UTC() },
		logger:     logger,
		onApplied:  deps.OnApplied,
	}, nil
}

// Apply validates the code against the coupon catalogue and pins it to the
// cart, replacing any previously applied coupon.
func (s *couponService) Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponApplication, error) {
	if s == nil || s.coupons == nil {
		return CouponApplication{}, ErrCouponUnavailable
	}
	if err := validateScope(cmd.Scope); err != nil {
		return CouponApplication{}, ErrCouponInvalidInput
	}

	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponApplication{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponApplication{}, ErrCouponNotFound
		}
		return CouponApplication{}, s.translateRepoError(err)
	}

	if !coupon.ActiveAt(s.now()) {
		return CouponApplication{}, ErrCouponInactive
	}

	cart, err := s.pinCoupon(ctx, cmd.Scope, coupon.Code)
	if err != nil {
		return CouponApplication{}, err
	}

	application := CouponApplication{Cart: cart, Coupon: coupon}
	if s.summarizer != nil {
		summary, err := s.summarizer.SummarizeCart(ctx, cart)
		if err != nil {
			return CouponApplication{}, err
		}
		application.Summary = summary
	}

	s.logger(ctx, "coupon.applied", map[string]any{
		"scope": cmd.Scope.Key(),
		"code":  coupon.Code,
		"kind":  string(coupon.Kind),
	})
	if s.onApplied != nil {
		go s.onApplied(coupon)
	}
	return application, nil
}

// Remove clears any pinned coupon. Removing when none is pinned is not an error.
func (s *couponService) Remove(ctx context.Context, scope CartScope) (Cart, error) {
	if s == nil || s.coupons == nil {
		return Cart{}, ErrCouponUnavailable
	}
	if err := validateScope(scope); err != nil {
		return Cart{}, ErrCouponInvalidInput
	}

	cart, err := s.pinCoupon(ctx, scope, "")
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "coupon.removed", map[string]any{"scope": scope.Key()})
	return cart, nil
}

func (s *couponService) pinCoupon(ctx context.Context, scope CartScope, code string) (Cart, error) {
	if scope.IsAccount() {
		cart, err := s.accounts.SetCoupon(ctx, scope.UserID, code)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		return cart, nil
	}

	cart, err := s.sessions.Get(ctx, scope.SessionID)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, s.translateRepoError(err)
		}
		cart = domain.Cart{
			ID:        scope.SessionID,
			SessionID: scope.SessionID,
			Items:     []domain.LineItem{},
		}
	}
	cart.CouponCode = code
	cart.UpdatedAt = s.now()

	saved, err := s.sessions.Replace(ctx, scope.SessionID, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

func (s *couponService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCouponNotFound
		}
		return ErrCouponUnavailable
	}
	return ErrCouponUnavailable
}
