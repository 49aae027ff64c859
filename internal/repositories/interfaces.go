package repositories

import (
	"context"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	SessionCarts() SessionCartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Assets() AssetRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns account cart persistence, keyed by user ID.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.LineItem) (domain.Cart, error)
	SetCoupon(ctx context.Context, userID string, code string) (domain.Cart, error)
	Watch(ctx context.Context, userID string) (CartWatcher, error)
}

// CartWatcher streams cart snapshots as remote writes land.
type CartWatcher interface {
	// Next blocks until the next snapshot or context cancellation.
	Next(ctx context.Context) (domain.Cart, error)
	Stop()
}

// SessionCartRepository owns anonymous cart persistence, keyed by session ID.
// The whole item list is written as one document, matching the single
// local slot the storefront client keeps for signed-out visitors.
type SessionCartRepository interface {
	Get(ctx context.Context, sessionID string) (domain.Cart, error)
	Replace(ctx context.Context, sessionID string, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, sessionID string) error
}

// CouponRepository resolves coupon codes to their definitions.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
}

// OrderRepository persists immutable order snapshots and query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// AssetRepository handles metadata synchronized with Cloud Storage objects.
type AssetRepository interface {
	CreateSignedUpload(ctx context.Context, cmd SignedUploadRecord) (domain.SignedAssetResponse, error)
	CreateSignedDownload(ctx context.Context, cmd SignedDownloadRecord) (domain.SignedAssetResponse, error)
	MarkUploaded(ctx context.Context, assetID string, actorID string, metadata map[string]any) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []string
	After      *time.Time
	Before     *time.Time
	Pagination domain.Pagination
}

type SignedUploadRecord struct {
	ActorID     string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type SignedDownloadRecord struct {
	ActorID string
	AssetID string
}
