package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/kalamkaar/api/internal/platform/firestore"
	"github.com/kalamkaar/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract so services can be wired without
// knowing about providers or buckets.
type Registry struct {
	provider *pfirestore.Provider

	carts    *CartRepository
	sessions *SessionCartRepository
	coupons  *CouponRepository
	orders   *OrderRepository
	assets   *AssetRepository
	health   repositories.HealthRepository
}

// RegistryOption customises optional registry members.
type RegistryOption func(*Registry)

// WithRegistryAssets attaches an asset repository. Assets need a storage
// client for signed URLs, so callers construct the repository themselves.
func WithRegistryAssets(assets *AssetRepository) RegistryOption {
	return func(r *Registry) {
		r.assets = assets
	}
}

// WithRegistryHealth attaches the dependency health probe set.
func WithRegistryHealth(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs the core repositories against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionCartRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider: provider,
		carts:    carts,
		sessions: sessions,
		coupons:  coupons,
		orders:   orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) SessionCarts() repositories.SessionCartRepository { return r.sessions }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Assets() repositories.AssetRepository {
	if r.assets == nil {
		return nil
	}
	return r.assets
}

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository calls into one Firestore transaction with the
// provider's retry policy. The context handed to fn carries the live
// transaction, and repository reads and writes made through it are staged
// on the transaction instead of the plain client, so either every write in
// fn commits or none do.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTx(txCtx, tx))
	})
}
