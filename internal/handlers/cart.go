package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalamkaar/api/internal/platform/auth"
	"github.com/kalamkaar/api/internal/platform/httpx"
	"github.com/kalamkaar/api/internal/services"
)

// sessionHeader carries the anonymous cart identifier for requests without
// a bearer token.
const sessionHeader = "X-Session-ID"

const maxCartBodySize = 16 * 1024

// CartHandlers exposes cart, coupon, and summary endpoints. Anonymous
// callers are scoped by the session header; signed-in callers by their UID.
type CartHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	coupons   services.CouponService
	summaries services.SummaryService
}

// NewCartHandlers constructs handlers over the cart, coupon, and summary services.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, coupons services.CouponService, summaries services.SummaryService) *CartHandlers {
	return &CartHandlers{
		authn:     authn,
		carts:     carts,
		coupons:   coupons,
		summaries: summaries,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Get("/summary", h.getSummary)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)

	if h.authn != nil {
		r.With(h.authn.RequireFirebaseAuth()).Post("/migrate", h.migrateCart)
		r.With(h.authn.RequireFirebaseAuth()).Get("/watch", h.watchCart)
	} else {
		r.Post("/migrate", h.migrateCart)
		r.Get("/watch", h.watchCart)
	}
}

// scopeFromRequest resolves the cart scope for the caller. A signed-in
// identity always wins over the session header.
func scopeFromRequest(r *http.Request) (services.CartScope, bool) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UID) != "" {
		return services.CartScope{UserID: identity.UID}, true
	}
	if sessionID := strings.TrimSpace(r.Header.Get(sessionHeader)); sessionID != "" {
		return services.CartScope{SessionID: sessionID}, true
	}
	return services.CartScope{}, false
}

func writeScopeRequired(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("session_required", "sign in or provide the "+sessionHeader+" header", http.StatusBadRequest))
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	cart, err := h.carts.GetCart(ctx, scope)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.AddCartItemCommand{
		Scope:                 scope,
		SourceID:              strings.TrimSpace(req.SourceID),
		Title:                 strings.TrimSpace(req.Title),
		ArtistName:            strings.TrimSpace(req.ArtistName),
		BasePrice:             req.BasePrice,
		Quantity:              req.Quantity,
		UnitCount:             req.UnitCount,
		AddOnCost:             req.AddOnCost,
		CustomizationImageURL: strings.TrimSpace(req.CustomizationImageURL),
		DeliveryNote:          strings.TrimSpace(req.DeliveryNote),
		CategoryID:            strings.TrimSpace(req.CategoryID),
		Metadata:              req.Metadata,
	}
	if req.Variant != nil {
		cmd.Variant = &services.LineItemVariant{
			Name:            strings.TrimSpace(req.Variant.Name),
			PriceAdjustment: req.Variant.PriceAdjustment,
		}
	}

	cart, err := h.carts.AddItem(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusCreated, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{Scope: scope, ItemID: itemID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	if err := h.carts.ClearCart(ctx, scope); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) migrateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req migrateCartRequest
	if body, err := readLimitedBody(r, maxCartBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(sessionHeader))
	}
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.MigrateOnSignIn(ctx, services.MigrateCartCommand{
		SessionID: sessionID,
		UserID:    identity.UID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

// watchCart streams cart snapshots as server-sent events so other tabs
// and devices converge without polling. The live view only exists for
// signed-in carts; anonymous carts are device-local.
func (h *CartHandlers) watchCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "client connection does not support streaming", http.StatusNotImplemented))
		return
	}

	stream, err := h.carts.Watch(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	defer stream.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		cart, err := stream.Next(ctx)
		if err != nil {
			// Client disconnects and closed streams both end the watch.
			return
		}
		payload, err := json.Marshal(cartResponse{Cart: buildCartPayload(cart)})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: cart\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}

func (h *CartHandlers) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.summaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("summary_service_unavailable", "summary service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	summary, err := h.summaries.Summarize(ctx, scope)
	if err != nil {
		h.writeSummaryError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	writeJSONResponse(w, http.StatusOK, summaryResponse{Summary: buildSummaryPayload(summary)})
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req applyCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	applied, err := h.coupons.Apply(ctx, services.ApplyCouponCommand{Scope: scope, Code: req.Code})
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, applied.Cart)
	writeJSONResponse(w, http.StatusOK, couponResponse{
		Cart:    buildCartPayload(applied.Cart),
		Coupon:  buildCouponPayload(applied.Coupon),
		Summary: buildSummaryPayload(applied.Summary),
	})
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	scope, ok := scopeFromRequest(r)
	if !ok {
		writeScopeRequired(ctx, w)
		return
	}

	cart, err := h.coupons.Remove(ctx, scope)
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func (h *CartHandlers) writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code not recognised", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponInactive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_inactive", "coupon is expired or not yet active", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponUnavailable), errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon operation failed", http.StatusInternalServerError))
	}
}

func (h *CartHandlers) writeSummaryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSummaryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSummaryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("summary_service_unavailable", "summary service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("summary_error", "failed to compute summary", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		SessionID:  strings.TrimSpace(cart.SessionID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
		CouponCode: strings.TrimSpace(cart.CouponCode),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartItems(items []services.LineItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}
	payloads := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:                    item.ID,
			SourceID:              item.SourceID,
			Title:                 item.Title,
			ArtistName:            item.ArtistName,
			UnitPrice:             item.UnitPrice,
			Quantity:              item.Quantity,
			CustomizationImageURL: item.CustomizationImageURL,
			DeliveryNote:          item.DeliveryNote,
			CategoryID:            item.CategoryID,
			Metadata:              cloneMap(item.Metadata),
		}
		if item.Variant != nil {
			entry.Variant = &cartVariantPayload{
				Name:            item.Variant.Name,
				PriceAdjustment: item.Variant.PriceAdjustment,
			}
		}
		payloads = append(payloads, entry)
	}
	return payloads
}

func buildSummaryPayload(summary services.ChargeSummary) summaryPayload {
	return summaryPayload{
		Subtotal:        summary.Subtotal,
		DeliveryCharge:  summary.DeliveryCharge,
		PackagingCharge: summary.PackagingCharge,
		Discount:        summary.Discount,
		Total:           summary.Total,
	}
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	return couponPayload{
		Code:          coupon.Code,
		Kind:          string(coupon.Kind),
		DiscountKind:  string(coupon.DiscountKind),
		DiscountValue: coupon.DiscountValue,
		Description:   coupon.Description,
	}
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type summaryResponse struct {
	Summary summaryPayload `json:"summary"`
}

type couponResponse struct {
	Cart    cartPayload    `json:"cart"`
	Coupon  couponPayload  `json:"coupon"`
	Summary summaryPayload `json:"summary"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	CouponCode string            `json:"coupon_code,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID                    string              `json:"id"`
	SourceID              string              `json:"source_id"`
	Title                 string              `json:"title"`
	ArtistName            string              `json:"artist_name,omitempty"`
	UnitPrice             int64               `json:"unit_price"`
	Quantity              int                 `json:"quantity"`
	Variant               *cartVariantPayload `json:"variant,omitempty"`
	CustomizationImageURL string              `json:"customization_image_url,omitempty"`
	DeliveryNote          string              `json:"delivery_note,omitempty"`
	CategoryID            string              `json:"category_id,omitempty"`
	Metadata              map[string]any      `json:"metadata,omitempty"`
}

type cartVariantPayload struct {
	Name            string `json:"name"`
	PriceAdjustment int64  `json:"price_adjustment"`
}

type summaryPayload struct {
	Subtotal        int64 `json:"subtotal"`
	DeliveryCharge  int64 `json:"delivery_charge"`
	PackagingCharge int64 `json:"packaging_charge"`
	Discount        int64 `json:"discount"`
	Total           int64 `json:"total"`
}

type couponPayload struct {
	Code          string `json:"code"`
	Kind          string `json:"kind"`
	DiscountKind  string `json:"discount_kind"`
	DiscountValue int64  `json:"discount_value"`
	Description   string `json:"description,omitempty"`
}

type addCartItemRequest struct {
	SourceID              string              `json:"source_id"`
	Title                 string              `json:"title"`
	ArtistName            string              `json:"artist_name"`
	BasePrice             int64               `json:"base_price"`
	Variant               *cartVariantPayload `json:"variant"`
	Quantity              int                 `json:"quantity"`
	UnitCount             int                 `json:"unit_count"`
	AddOnCost             int64               `json:"add_on_cost"`
	CustomizationImageURL string              `json:"customization_image_url"`
	DeliveryNote          string              `json:"delivery_note"`
	CategoryID            string              `json:"category_id"`
	Metadata              map[string]any      `json:"metadata"`
}

type migrateCartRequest struct {
	SessionID string `json:"session_id"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}
