package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kalamkaar/api/internal/domain"
	pfirestore "github.com/kalamkaar/api/internal/platform/firestore"
	"github.com/kalamkaar/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository resolves coupon codes against the coupons collection.
type CouponRepository struct {
	base *pfirestore.BaseRepository[domain.Coupon]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Coupon) (any, error) {
		return encodeCouponDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Coupon, error) {
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Coupon{}, err
		}
		doc.ID = snap.Ref.ID
		return decodeCouponDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Coupon](provider, couponCollection, encoder, decoder)
	return &CouponRepository{base: base}, nil
}

// FindByCode returns the coupon matching the exact normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find", status.Error(codes.NotFound, "coupon not found"))
	}
	return docs[0].Data, nil
}

// Upsert writes the coupon definition keyed by its ID, defaulting the ID
// to the normalised code.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	if strings.TrimSpace(coupon.ID) == "" {
		coupon.ID = coupon.Code
	}

	if _, err := r.base.Set(ctx, coupon.ID, coupon); err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:          strings.ToUpper(strings.TrimSpace(coupon.Code)),
		Kind:          string(coupon.Kind),
		DiscountKind:  string(coupon.DiscountKind),
		DiscountValue: coupon.DiscountValue,
		Status:        string(coupon.Status),
		ValidFrom:     coupon.ValidFrom.UTC(),
		ValidUntil:    coupon.ValidUntil.UTC(),
		Description:   strings.TrimSpace(coupon.Description),
	}
}

func decodeCouponDocument(doc couponDocument) domain.Coupon {
	return domain.Coupon{
		ID:            doc.ID,
		Code:          strings.ToUpper(strings.TrimSpace(doc.Code)),
		Kind:          domain.CouponKind(doc.Kind),
		DiscountKind:  domain.DiscountKind(doc.DiscountKind),
		DiscountValue: doc.DiscountValue,
		Status:        domain.CouponStatus(doc.Status),
		ValidFrom:     doc.ValidFrom,
		ValidUntil:    doc.ValidUntil,
		Description:   doc.Description,
	}
}

type couponDocument struct {
	ID            string    `firestore:"-"`
	Code          string    `firestore:"code"`
	Kind          string    `firestore:"kind"`
	DiscountKind  string    `firestore:"discountKind"`
	DiscountValue int64     `firestore:"discountValue"`
	Status        string    `firestore:"status"`
	ValidFrom     time.Time `firestore:"validFrom"`
	ValidUntil    time.Time `firestore:"validUntil,omitempty"`
	Description   string    `firestore:"description,omitempty"`
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
