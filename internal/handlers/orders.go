package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkaar/api/internal/platform/auth"
	"github.com/kalamkaar/api/internal/platform/httpx"
	"github.com/kalamkaar/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes read-only order endpoints for authenticated users.
// Staff roles may read any order; regular users only see their own.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		Status: parseFilterValues(query["status"]),
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.After = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.Before = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		if size > maxOrderPageSize {
			size = maxOrderPageSize
		}
		pageSize = size
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	staff := identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin)
	if staff {
		filter.UserID = strings.TrimSpace(query.Get("user_id"))
	}

	page, err := h.orders.ListOrders(ctx, identity.UID, staff, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:     orderID,
		RequesterID: identity.UID,
		Staff:       identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin),
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:         order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Currency:   order.Currency,
		CouponCode: order.CouponCode,
		Note:       order.Note,
		Summary:    buildSummaryPayload(order.Summary),
		Items:      make([]orderItemPayload, 0, len(order.Items)),
		Shipping: shippingPayload{
			Name:    order.Shipping.Name,
			Email:   order.Shipping.Email,
			Phone:   order.Shipping.Phone,
			Address: order.Shipping.Address,
			City:    order.Shipping.City,
			State:   order.Shipping.State,
			Pincode: order.Shipping.Pincode,
			Country: order.Shipping.Country,
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		entry := orderItemPayload{
			LineItemID:            item.LineItemID,
			SourceID:              item.SourceID,
			Title:                 item.Title,
			ArtistName:            item.ArtistName,
			CustomizationImageURL: item.CustomizationImageURL,
			DeliveryNote:          item.DeliveryNote,
			Quantity:              item.Quantity,
			UnitPrice:             item.UnitPrice,
			Total:                 item.Total,
		}
		if item.Variant != nil {
			entry.Variant = &cartVariantPayload{
				Name:            item.Variant.Name,
				PriceAdjustment: item.Variant.PriceAdjustment,
			}
		}
		payload.Items = append(payload.Items, entry)
	}

	if order.Payment != nil {
		payload.Payment = &orderPaymentPayload{
			Provider:       order.Payment.Provider,
			GatewayOrderID: order.Payment.GatewayOrderID,
			PaymentID:      order.Payment.PaymentID,
			Amount:         order.Payment.Amount,
			Currency:       order.Payment.Currency,
		}
		if !order.Payment.VerifiedAt.IsZero() {
			payload.Payment.VerifiedAt = formatTime(order.Payment.VerifiedAt)
		}
	}

	return payload
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Status     string               `json:"status"`
	Currency   string               `json:"currency"`
	Items      []orderItemPayload   `json:"items"`
	Summary    summaryPayload       `json:"summary"`
	CouponCode string               `json:"coupon_code,omitempty"`
	Note       string               `json:"note,omitempty"`
	Shipping   shippingPayload      `json:"shipping"`
	Payment    *orderPaymentPayload `json:"payment,omitempty"`
	CreatedAt  string               `json:"created_at,omitempty"`
	UpdatedAt  string               `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	LineItemID            string              `json:"line_item_id"`
	SourceID              string              `json:"source_id"`
	Title                 string              `json:"title"`
	ArtistName            string              `json:"artist_name,omitempty"`
	Variant               *cartVariantPayload `json:"variant,omitempty"`
	CustomizationImageURL string              `json:"customization_image_url,omitempty"`
	DeliveryNote          string              `json:"delivery_note,omitempty"`
	Quantity              int                 `json:"quantity"`
	UnitPrice             int64               `json:"unit_price"`
	Total                 int64               `json:"total"`
}

type shippingPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type orderPaymentPayload struct {
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	VerifiedAt     string `json:"verified_at,omitempty"`
}
