package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CartScope selects which cart a command operates on: the anonymous
// session cart or the signed-in user's account cart.
type CartScope struct {
	SessionID string
	UserID    string
}

// IsAccount reports whether the scope targets an account cart.
func (s CartScope) IsAccount() bool { return s.UserID != "" }

// Key returns the document key for the scoped cart.
func (s CartScope) Key() string {
	if s.IsAccount() {
		return s.UserID
	}
	return s.SessionID
}

// LineItemVariant records the chosen product variant and its price delta.
type LineItemVariant struct {
	Name            string
	PriceAdjustment int64
}

// LineItem is a single cart entry. UnitPrice is the fully computed
// per-line price in paise, including variant and add-on adjustments.
type LineItem struct {
	ID                    string
	SourceID              string
	Title                 string
	ArtistName            string
	UnitPrice             int64
	Quantity              int
	Variant               *LineItemVariant
	CustomizationImageURL string
	DeliveryNote          string
	CategoryID            string
	CreatedAtMillis       int64
	Metadata              map[string]any
}

// NewLineItemID derives the cart-unique identifier for a line item from
// its catalog source and the moment it was added.
func NewLineItemID(sourceID string, addedAt time.Time) string {
	return fmt.Sprintf("%s-%d", sourceID, addedAt.UnixMilli())
}

// Cart aggregates the mutable shopping cart state for one scope.
type Cart struct {
	ID         string
	UserID     string
	SessionID  string
	Currency   string
	Items      []LineItem
	CouponCode string
	UpdatedAt  time.Time
}

// CouponKind determines which charge a coupon offsets.
type CouponKind string

const (
	// CouponKindDelivery waives or reduces the delivery charge.
	CouponKindDelivery CouponKind = "delivery"
	// CouponKindPackaging waives or reduces the packaging charge.
	CouponKindPackaging CouponKind = "packaging"
	// CouponKindOther discounts the order subtotal.
	CouponKindOther CouponKind = "other"
)

// DiscountKind selects percentage or fixed-amount discounting.
type DiscountKind string

const (
	// DiscountKindPercentage interprets DiscountValue as a percentage of the subtotal.
	DiscountKindPercentage DiscountKind = "percentage"
	// DiscountKindFixed interprets DiscountValue as an absolute amount in paise.
	DiscountKindFixed DiscountKind = "fixed"
)

// CouponStatus enumerates administrative coupon states.
type CouponStatus string

const (
	// CouponStatusActive marks a coupon as redeemable inside its validity window.
	CouponStatusActive CouponStatus = "active"
	// CouponStatusInactive marks a coupon as administratively disabled.
	CouponStatusInactive CouponStatus = "inactive"
)

// Coupon describes a redeemable discount code.
type Coupon struct {
	ID            string
	Code          string
	Kind          CouponKind
	DiscountKind  DiscountKind
	DiscountValue int64
	Status        CouponStatus
	ValidFrom     time.Time
	ValidUntil    time.Time
	Description   string
}

// NormalizeCouponCode canonicalises a user-entered code for exact matching.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ActiveAt reports whether the coupon is redeemable at the given instant.
func (c Coupon) ActiveAt(now time.Time) bool {
	if c.Status != CouponStatusActive {
		return false
	}
	if now.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return false
	}
	return true
}

// ChargeSummary is the derived money view shown before and at checkout.
// All amounts are paise. PackagingCharge is surfaced to the customer but
// not folded into Total; see Summarize.
type ChargeSummary struct {
	Subtotal        int64
	DeliveryCharge  int64
	PackagingCharge int64
	Discount        int64
	Total           int64
}

// ShippingDetails is the validated delivery address collected at checkout.
type ShippingDetails struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	State   string
	Pincode string
	Country string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates a gateway order exists but payment is unverified.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid indicates payment was verified and the order is frozen.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the payment attempt failed verification.
	OrderStatusFailed OrderStatus = "failed"
)

// OrderLineItem mirrors cart items at the time of checkout.
type OrderLineItem struct {
	LineItemID            string
	SourceID              string
	Title                 string
	ArtistName            string
	Variant               *LineItemVariant
	CustomizationImageURL string
	DeliveryNote          string
	Quantity              int
	UnitPrice             int64
	Total                 int64
}

// OrderPayment stores gateway references for a verified payment.
type OrderPayment struct {
	Provider       string
	GatewayOrderID string
	PaymentID      string
	Signature      string
	Amount         int64
	Currency       string
	VerifiedAt     time.Time
}

// Order is the immutable record written once payment is verified.
type Order struct {
	ID         string
	UserID     string
	Status     OrderStatus
	Currency   string
	Items      []OrderLineItem
	Summary    ChargeSummary
	CouponCode string
	Note       string
	Shipping   ShippingDetails
	Payment    *OrderPayment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedAssetResponse returns signed URL payloads for upload/download flows.
type SignedAssetResponse struct {
	AssetID   string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
