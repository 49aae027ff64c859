package services

import (
	"context"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	CartScope           = domain.CartScope
	Cart                = domain.Cart
	LineItem            = domain.LineItem
	LineItemVariant     = domain.LineItemVariant
	Coupon              = domain.Coupon
	CouponKind          = domain.CouponKind
	ChargeSummary       = domain.ChargeSummary
	ShippingDetails     = domain.ShippingDetails
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderLineItem       = domain.OrderLineItem
	OrderPayment        = domain.OrderPayment
	SystemHealthReport  = domain.SystemHealthReport
	SignedAssetResponse = domain.SignedAssetResponse
)

// CartService manages cart state for both anonymous sessions and signed-in accounts.
type CartService interface {
	GetCart(ctx context.Context, scope CartScope) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, scope CartScope) error
	MigrateOnSignIn(ctx context.Context, cmd MigrateCartCommand) (Cart, error)
	Watch(ctx context.Context, userID string) (CartStream, error)
}

// CartStream delivers cart snapshots as remote writes land. Callers must Stop it.
type CartStream interface {
	Next(ctx context.Context) (Cart, error)
	Stop()
}

// CouponService validates coupon codes and pins them to carts.
type CouponService interface {
	Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponApplication, error)
	Remove(ctx context.Context, scope CartScope) (Cart, error)
}

// SummaryService computes the charge summary for a cart, including coupon effects.
type SummaryService interface {
	Summarize(ctx context.Context, scope CartScope) (ChargeSummary, error)
	SummarizeCart(ctx context.Context, cart Cart) (ChargeSummary, error)
}

// CheckoutService drives the payment handshake from shipping capture through order freeze.
type CheckoutService interface {
	Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutIntent, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	Abandon(ctx context.Context, cmd AbandonCheckoutCommand) error
	ProcessGatewayEvent(ctx context.Context, cmd GatewayEventCommand) error
}

// OrderService exposes read access to frozen orders.
type OrderService interface {
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, requesterID string, staff bool, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// AssetService issues signed URLs and coordinates storage metadata syncing.
type AssetService interface {
	IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedAssetResponse, error)
	IssueSignedDownload(ctx context.Context, cmd SignedDownloadCommand) (SignedAssetResponse, error)
}

// NotificationService delivers transactional mail. Failures must not block checkout.
type NotificationService interface {
	SendOrderConfirmation(ctx context.Context, order Order)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService aggregates utility endpoints (health checks, build info).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	Scope                 CartScope
	SourceID              string
	Title                 string
	ArtistName            string
	BasePrice             int64
	Variant               *LineItemVariant
	Quantity              int
	UnitCount             int
	AddOnCost             int64
	CustomizationImageURL string
	DeliveryNote          string
	CategoryID            string
	Metadata              map[string]any
}

type RemoveCartItemCommand struct {
	Scope  CartScope
	ItemID string
}

type MigrateCartCommand struct {
	SessionID string
	UserID    string
}

type ApplyCouponCommand struct {
	Scope CartScope
	Code  string
}

// CouponApplication reports the accepted coupon alongside the recomputed cart.
type CouponApplication struct {
	Cart    Cart
	Coupon  Coupon
	Summary ChargeSummary
}

type BeginCheckoutCommand struct {
	UserID            string
	Scope             CartScope
	Shipping          ShippingDetails
	Note              string
	PreferredProvider string
	IdempotencyKey    string
}

// CheckoutIntent carries the handshake material the client hands to the gateway SDK.
type CheckoutIntent struct {
	OrderID        string
	GatewayOrderID string
	Provider       string
	Amount         int64
	Currency       string
	KeyID          string
	CreatedAt      time.Time
}

type ConfirmPaymentCommand struct {
	UserID         string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

type AbandonCheckoutCommand struct {
	UserID         string
	GatewayOrderID string
	Reason         string
}

type GatewayEventCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

type GetOrderCommand struct {
	OrderID     string
	RequesterID string
	Staff       bool
}

type OrderListFilter = repositories.OrderListFilter

// OrderEvent describes an order lifecycle transition for the events topic.
type OrderEvent struct {
	Type       string
	OrderID    string
	UserID     string
	Status     OrderStatus
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Metadata   map[string]string
}

type SignedUploadCommand struct {
	ActorID     string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type SignedDownloadCommand struct {
	ActorID string
	AssetID string
}
