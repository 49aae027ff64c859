package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/platform/textutil"
	"github.com/kalamkaar/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: account repository is required")
	errCartSessionsRequired   = errors.New("cart service: session repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	maxDeliveryNoteLength = 500
	maxLineItemTitle      = 200
	maxLineItemQuantity   = 50
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repositories and pricing inputs for cart operations.
type CartServiceDeps struct {
	Accounts        repositories.CartRepository
	Sessions        repositories.SessionCartRepository
	UnitOfWork      repositories.UnitOfWork
	Schedule        domain.PricingSchedule
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	accounts repositories.CartRepository
	sessions repositories.SessionCartRepository
	uow      repositories.UnitOfWork
	schedule domain.PricingSchedule
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Accounts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Sessions == nil {
		return nil, errCartSessionsRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &cartService{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		uow:      deps.UnitOfWork,
		schedule: deps.Schedule,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// GetCart loads the cart for the given scope, returning an empty cart when absent.
func (s *cartService) GetCart(ctx context.Context, scope CartScope) (Cart, error) {
	if s == nil || s.accounts == nil {
		return Cart{}, ErrCartUnavailable
	}
	if err := validateScope(scope); err != nil {
		return Cart{}, err
	}

	return s.loadCart(ctx, scope)
}

// AddItem prices and appends a line item, merging with an identical line when present.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.accounts == nil {
		return Cart{}, ErrCartUnavailable
	}
	if err := validateScope(cmd.Scope); err != nil {
		return Cart{}, err
	}

	sourceID := strings.TrimSpace(cmd.SourceID)
	if sourceID == "" {
		return Cart{}, fmt.Errorf("%w: source_id is required", ErrCartInvalidInput)
	}
	title := textutil.CleanUserText(cmd.Title)
	if title == "" {
		return Cart{}, fmt.Errorf("%w: title is required", ErrCartInvalidInput)
	}
	if len(title) > maxLineItemTitle {
		return Cart{}, fmt.Errorf("%w: title must be %d characters or fewer", ErrCartInvalidInput, maxLineItemTitle)
	}
	if cmd.BasePrice < 0 {
		return Cart{}, fmt.Errorf("%w: base_price must be non-negative", ErrCartInvalidInput)
	}
	quantity := cmd.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > maxLineItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxLineItemQuantity)
	}
	unitCount := cmd.UnitCount
	if unitCount <= 0 {
		unitCount = 1
	}
	if cmd.AddOnCost < 0 {
		return Cart{}, fmt.Errorf("%w: add_on_cost must be non-negative", ErrCartInvalidInput)
	}
	deliveryNote := textutil.CleanUserText(cmd.DeliveryNote)
	if len(deliveryNote) > maxDeliveryNoteLength {
		return Cart{}, fmt.Errorf("%w: delivery_note must be %d characters or fewer", ErrCartInvalidInput, maxDeliveryNoteLength)
	}

	var variantAdjustment int64
	var variantName string
	var variant *domain.LineItemVariant
	if cmd.Variant != nil {
		variantName = strings.TrimSpace(cmd.Variant.Name)
		if variantName == "" {
			return Cart{}, fmt.Errorf("%w: variant name is required", ErrCartInvalidInput)
		}
		variantAdjustment = cmd.Variant.PriceAdjustment
		variant = &domain.LineItemVariant{Name: variantName, PriceAdjustment: cmd.Variant.PriceAdjustment}
	}

	unitPrice := domain.ComputeUnitPrice(cmd.BasePrice, variantAdjustment, unitCount, s.schedule.ForVariant(variantName), cmd.AddOnCost)

	cart, err := s.loadCart(ctx, cmd.Scope)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	items := cloneLineItems(cart.Items)

	matchIdx := -1
	for i := range items {
		if !strings.EqualFold(strings.TrimSpace(items[i].SourceID), sourceID) {
			continue
		}
		if !variantEqual(items[i].Variant, variant) {
			continue
		}
		if items[i].CustomizationImageURL != strings.TrimSpace(cmd.CustomizationImageURL) {
			continue
		}
		if items[i].UnitPrice != unitPrice {
			continue
		}
		matchIdx = i
		break
	}

	if matchIdx >= 0 {
		items[matchIdx].Quantity += quantity
		if items[matchIdx].Quantity > maxLineItemQuantity {
			return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxLineItemQuantity)
		}
		if deliveryNote != "" {
			items[matchIdx].DeliveryNote = deliveryNote
		}
	} else {
		item := domain.LineItem{
			ID:                    domain.NewLineItemID(sourceID, now),
			SourceID:              sourceID,
			Title:                 title,
			ArtistName:            textutil.CleanUserText(cmd.ArtistName),
			UnitPrice:             unitPrice,
			Quantity:              quantity,
			Variant:               variant,
			CustomizationImageURL: strings.TrimSpace(cmd.CustomizationImageURL),
			DeliveryNote:          deliveryNote,
			CategoryID:            strings.TrimSpace(cmd.CategoryID),
			CreatedAtMillis:       now.UnixMilli(),
			Metadata:              cloneAnyMap(cmd.Metadata),
		}
		// Same source added twice within a millisecond would collide on ID.
		for indexOfLineItem(items, item.ID) >= 0 {
			item.CreatedAtMillis++
			item.ID = domain.NewLineItemID(sourceID, time.UnixMilli(item.CreatedAtMillis))
		}
		items = append(items, item)
	}

	cart.Items = items
	cart.UpdatedAt = now

	saved, err := s.saveCart(ctx, cmd.Scope, cart)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"scope":    cmd.Scope.Key(),
		"sourceId": sourceID,
		"quantity": quantity,
	})
	return saved, nil
}

// RemoveItem deletes one line item. A missing item leaves the cart untouched.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.accounts == nil {
		return Cart{}, ErrCartUnavailable
	}
	if err := validateScope(cmd.Scope); err != nil {
		return Cart{}, err
	}

	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.loadCart(ctx, cmd.Scope)
	if err != nil {
		return Cart{}, err
	}

	items := cloneLineItems(cart.Items)
	idx := indexOfLineItem(items, itemID)
	if idx < 0 {
		// Removing an item that is already gone is a no-op, so retried
		// deletes return the current cart instead of an error.
		return cart, nil
	}

	items = append(items[:idx], items[idx+1:]...)
	cart.Items = items
	cart.UpdatedAt = s.now()

	saved, err := s.saveCart(ctx, cmd.Scope, cart)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_removed", map[string]any{
		"scope":  cmd.Scope.Key(),
		"itemId": itemID,
	})
	return saved, nil
}

// ClearCart drops all items and any pinned coupon for the scope.
func (s *cartService) ClearCart(ctx context.Context, scope CartScope) error {
	if s == nil || s.accounts == nil {
		return ErrCartUnavailable
	}
	if err := validateScope(scope); err != nil {
		return err
	}

	if scope.IsAccount() {
		cart := s.newCart(scope)
		if _, err := s.accounts.UpsertCart(ctx, cart); err != nil {
			return s.translateRepoError(err)
		}
	} else {
		if err := s.sessions.Delete(ctx, scope.SessionID); err != nil {
			return s.translateRepoError(err)
		}
	}

	s.logger(ctx, "cart.cleared", map[string]any{"scope": scope.Key()})
	return nil
}

// MigrateOnSignIn folds a session cart into the account cart and removes the
// session copy. Re-running after a partial failure is safe: once the session
// cart is gone the migration becomes a no-op.
func (s *cartService) MigrateOnSignIn(ctx context.Context, cmd MigrateCartCommand) (Cart, error) {
	if s == nil || s.accounts == nil || s.sessions == nil {
		return Cart{}, ErrCartUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	userID := strings.TrimSpace(cmd.UserID)
	if sessionID == "" || userID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	accountScope := CartScope{UserID: userID}

	sessionCart, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.loadCart(ctx, accountScope)
		}
		return Cart{}, s.translateRepoError(err)
	}

	var merged Cart
	migrate := func(ctx context.Context) error {
		accountCart, err := s.loadCart(ctx, accountScope)
		if err != nil {
			return err
		}

		merged = mergeCarts(accountCart, sessionCart)
		merged.UpdatedAt = s.now()

		saved, err := s.accounts.UpsertCart(ctx, merged)
		if err != nil {
			return s.translateRepoError(err)
		}
		merged = s.normaliseCart(saved, accountScope)

		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			return s.translateRepoError(err)
		}
		return nil
	}

	if s.uow != nil {
		err = s.uow.RunInTx(ctx, migrate)
	} else {
		err = migrate(ctx)
	}
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.migrated", map[string]any{
		"userId":    userID,
		"sessionId": sessionID,
		"items":     len(merged.Items),
	})
	return merged, nil
}

// Watch subscribes to live snapshots of the account cart.
func (s *cartService) Watch(ctx context.Context, userID string) (CartStream, error) {
	if s == nil || s.accounts == nil {
		return nil, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrCartInvalidInput
	}
	watcher, err := s.accounts.Watch(ctx, uid)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return watcher, nil
}

func (s *cartService) loadCart(ctx context.Context, scope CartScope) (Cart, error) {
	if scope.IsAccount() {
		cart, err := s.accounts.GetCart(ctx, scope.UserID)
		if err != nil {
			if isRepoNotFound(err) {
				return s.newCart(scope), nil
			}
			return Cart{}, s.translateRepoError(err)
		}
		return s.normaliseCart(cart, scope), nil
	}

	cart, err := s.sessions.Get(ctx, scope.SessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(scope), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, scope), nil
}

func (s *cartService) saveCart(ctx context.Context, scope CartScope, cart Cart) (Cart, error) {
	if scope.IsAccount() {
		saved, err := s.accounts.UpsertCart(ctx, cart)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		return s.normaliseCart(saved, scope), nil
	}

	saved, err := s.sessions.Replace(ctx, scope.SessionID, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, scope), nil
}

func (s *cartService) newCart(scope CartScope) domain.Cart {
	now := s.now()
	cart := domain.Cart{
		Currency:  s.currency,
		Items:     []domain.LineItem{},
		UpdatedAt: now,
	}
	if scope.IsAccount() {
		cart.ID = scope.UserID
		cart.UserID = scope.UserID
	} else {
		cart.ID = scope.SessionID
		cart.SessionID = scope.SessionID
	}
	return cart
}

func (s *cartService) normaliseCart(cart domain.Cart, scope CartScope) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = scope.Key()
	}
	if scope.IsAccount() {
		cart.UserID = scope.UserID
	} else {
		cart.SessionID = scope.SessionID
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.currency)))
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	cart.CouponCode = strings.ToUpper(strings.TrimSpace(cart.CouponCode))
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func validateScope(scope CartScope) error {
	if strings.TrimSpace(scope.UserID) == "" && strings.TrimSpace(scope.SessionID) == "" {
		return ErrCartInvalidInput
	}
	return nil
}

// mergeCarts appends the session lines onto the account cart. Account state
// wins on conflicts: an already pinned account coupon is kept, and a session
// line whose ID is already present in the account cart is skipped rather
// than duplicated, which keeps a replayed migration from doubling items.
func mergeCarts(account, session domain.Cart) domain.Cart {
	merged := account
	items := cloneLineItems(account.Items)
	for _, item := range session.Items {
		if item.Quantity <= 0 {
			continue
		}
		if indexOfLineItem(items, item.ID) >= 0 {
			continue
		}
		items = append(items, item)
	}
	merged.Items = items
	if strings.TrimSpace(merged.CouponCode) == "" {
		merged.CouponCode = strings.TrimSpace(session.CouponCode)
	}
	merged.SessionID = ""
	return merged
}

func variantEqual(a, b *domain.LineItemVariant) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(b.Name)) && a.PriceAdjustment == b.PriceAdjustment
}

func indexOfLineItem(items []domain.LineItem, itemID string) int {
	target := strings.TrimSpace(itemID)
	if target == "" {
		return -1
	}
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ID), target) {
			return i
		}
	}
	return -1
}

func cloneLineItems(items []domain.LineItem) []domain.LineItem {
	if len(items) == 0 {
		return []domain.LineItem{}
	}
	dup := make([]domain.LineItem, len(items))
	copy(dup, items)
	for i := range dup {
		if dup[i].Variant != nil {
			v := *dup[i].Variant
			dup[i].Variant = &v
		}
		dup[i].Metadata = cloneAnyMap(dup[i].Metadata)
	}
	return dup
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
