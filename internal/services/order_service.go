package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the order does not exist or the requester may
// not see it.
var ErrOrderNotFound = errors.New("order service: order not found")

// ErrOrderUnavailable indicates the order backend is unreachable.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// OrderServiceDeps wires collaborators for order reads.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("order service: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders: deps.Orders,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// GetOrder fetches a single order. Non-staff requesters only see their own
// orders; anything else is reported as not found.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	requesterID := strings.TrimSpace(cmd.RequesterID)
	if requesterID == "" && !cmd.Staff {
		return Order{}, fmt.Errorf("%w: requester id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, ErrOrderUnavailable
	}
	if !cmd.Staff && order.UserID != requesterID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages through orders. Non-staff callers are pinned to their own
// orders regardless of the filter they pass.
func (s *orderService) ListOrders(ctx context.Context, requesterID string, staff bool, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[domain.Order]{}, ErrOrderUnavailable
	}

	requesterID = strings.TrimSpace(requesterID)
	if !staff {
		if requesterID == "" {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: requester id is required", ErrOrderInvalidInput)
		}
		filter.UserID = requesterID
	}
	for _, status := range filter.Status {
		switch domain.OrderStatus(status) {
		case domain.OrderStatusPendingPayment, domain.OrderStatusPaid, domain.OrderStatusFailed:
		default:
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		s.logger(ctx, "orders.list_failed", map[string]any{
			"requesterId": requesterID,
			"error":       err.Error(),
		})
		return domain.CursorPage[domain.Order]{}, ErrOrderUnavailable
	}
	return page, nil
}
