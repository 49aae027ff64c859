package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/kalamkaar/api/internal/domain"
	pfirestore "github.com/kalamkaar/api/internal/platform/firestore"
	"github.com/kalamkaar/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists account carts within Firestore, one document per user.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed account cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart writes the whole cart document keyed by the user ID.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := encodeCartDocument(cart)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = uid
	saved.UserID = uid
	if !result.UpdateTime.IsZero() {
		saved.UpdatedAt = result.UpdateTime
	}
	return saved, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// ReplaceItems swaps the item list, leaving the applied coupon untouched.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.LineItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	docs := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, encodeCartItem(item))
	}
	updates := []firestore.Update{
		{Path: "items", Value: docs},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := r.base.Update(ctx, uid, updates); err != nil {
		// First write for a user has no document to update yet.
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return r.UpsertCart(ctx, domain.Cart{UserID: uid, Items: items})
		}
		return domain.Cart{}, err
	}
	return r.GetCart(ctx, uid)
}

// SetCoupon pins or clears the applied coupon code on the cart document.
func (r *CartRepository) SetCoupon(ctx context.Context, userID string, code string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	var value any = strings.TrimSpace(code)
	if value == "" {
		value = firestore.Delete
	}
	updates := []firestore.Update{
		{Path: "couponCode", Value: value},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if _, err := r.base.Update(ctx, uid, updates); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() && code != "" {
			return r.UpsertCart(ctx, domain.Cart{UserID: uid, CouponCode: code})
		}
		return domain.Cart{}, err
	}
	return r.GetCart(ctx, uid)
}

// Watch opens a snapshot listener on the user's cart document. The
// returned watcher emits the current state immediately and then every
// remote write until Stop or context cancellation.
func (r *CartRepository) Watch(ctx context.Context, userID string) (repositories.CartWatcher, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &cartWatcher{
		userID: uid,
		iter:   ref.Snapshots(ctx),
	}, nil
}

type cartWatcher struct {
	userID string
	iter   *firestore.DocumentSnapshotIterator
}

func (w *cartWatcher) Next(ctx context.Context) (domain.Cart, error) {
	if w == nil || w.iter == nil {
		return domain.Cart{}, errors.New("cart watcher not initialised")
	}
	snap, err := w.iter.Next()
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.watch", err)
	}
	if !snap.Exists() {
		// Deleted or never-created document reads as an empty cart.
		return domain.Cart{ID: w.userID, UserID: w.userID}, nil
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.watch", err)
	}
	return decodeCartDocument(snap.Ref.ID, doc, snap.UpdateTime), nil
}

func (w *cartWatcher) Stop() {
	if w != nil && w.iter != nil {
		w.iter.Stop()
	}
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.LineItem, len(cart.Items))
		copy(dup.Items, cart.Items)
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

func encodeCartDocument(cart domain.Cart) cartDocument {
	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	doc := cartDocument{
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		CouponCode: strings.TrimSpace(cart.CouponCode),
		SessionID:  strings.TrimSpace(cart.SessionID),
		ItemsCount: len(cart.Items),
		UpdatedAt:  now,
	}
	doc.Items = make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, encodeCartItem(item))
	}
	return doc
}

func decodeCartDocument(id string, doc cartDocument, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:         id,
		UserID:     id,
		SessionID:  doc.SessionID,
		Currency:   strings.ToUpper(strings.TrimSpace(doc.Currency)),
		CouponCode: strings.TrimSpace(doc.CouponCode),
		Items:      make([]domain.LineItem, 0, len(doc.Items)),
		UpdatedAt:  updateTime,
	}
	if updateTime.IsZero() {
		cart.UpdatedAt = doc.UpdatedAt
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, decodeCartItem(item))
	}
	return cart
}

func encodeCartItem(item domain.LineItem) cartItemDocument {
	doc := cartItemDocument{
		ID:                    item.ID,
		SourceID:              item.SourceID,
		Title:                 item.Title,
		ArtistName:            item.ArtistName,
		UnitPrice:             item.UnitPrice,
		Quantity:              item.Quantity,
		CustomizationImageURL: item.CustomizationImageURL,
		DeliveryNote:          item.DeliveryNote,
		CategoryID:            item.CategoryID,
		CreatedAtMillis:       item.CreatedAtMillis,
		Metadata:              cloneAnyMap(item.Metadata),
	}
	if item.Variant != nil {
		doc.Variant = &cartItemVariantDocument{
			Name:            item.Variant.Name,
			PriceAdjustment: item.Variant.PriceAdjustment,
		}
	}
	return doc
}

func decodeCartItem(doc cartItemDocument) domain.LineItem {
	item := domain.LineItem{
		ID:                    doc.ID,
		SourceID:              doc.SourceID,
		Title:                 doc.Title,
		ArtistName:            doc.ArtistName,
		UnitPrice:             doc.UnitPrice,
		Quantity:              doc.Quantity,
		CustomizationImageURL: doc.CustomizationImageURL,
		DeliveryNote:          doc.DeliveryNote,
		CategoryID:            doc.CategoryID,
		CreatedAtMillis:       doc.CreatedAtMillis,
		Metadata:              cloneAnyMap(doc.Metadata),
	}
	if doc.Variant != nil {
		item.Variant = &domain.LineItemVariant{
			Name:            doc.Variant.Name,
			PriceAdjustment: doc.Variant.PriceAdjustment,
		}
	}
	return item
}

type cartDocument struct {
	Currency   string             `firestore:"currency,omitempty"`
	CouponCode string             `firestore:"couponCode,omitempty"`
	SessionID  string             `firestore:"sessionId,omitempty"`
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID                    string                   `firestore:"id"`
	SourceID              string                   `firestore:"sourceId"`
	Title                 string                   `firestore:"title,omitempty"`
	ArtistName            string                   `firestore:"artistName,omitempty"`
	UnitPrice             int64                    `firestore:"unitPrice"`
	Quantity              int                      `firestore:"quantity"`
	Variant               *cartItemVariantDocument `firestore:"variant,omitempty"`
	CustomizationImageURL string                   `firestore:"customizationImageUrl,omitempty"`
	DeliveryNote          string                   `firestore:"deliveryNote,omitempty"`
	CategoryID            string                   `firestore:"categoryId,omitempty"`
	CreatedAtMillis       int64                    `firestore:"createdAtMillis"`
	Metadata              map[string]any           `firestore:"metadata,omitempty"`
}

type cartItemVariantDocument struct {
	Name            string `firestore:"name"`
	PriceAdjustment int64  `firestore:"priceAdjustment"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
