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
	"github.com/kalamkaar/api/internal/platform/pagination"
	"github.com/kalamkaar/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists immutable order snapshots in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Order) (any, error) {
		return encodeOrderDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeOrderDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Order](provider, orderCollection, encoder, decoder)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document; the ID must not already exist.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return errors.New("order repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return errors.New("order repository: id is required")
	}

	if _, err := r.base.Set(ctx, order.ID, order); err != nil {
		return err
	}
	return nil
}

// FindByID loads an order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// FindByGatewayOrderID resolves an order by its payment gateway order reference.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(gatewayOrderID)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: gateway order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.gatewayOrderId", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data, nil
}

// List returns orders matching the filter ordered by creation time, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", filter.Status[0])
		} else if len(filter.Status) > 1 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.After != nil {
			q = q.Where("createdAt", ">=", filter.After.UTC())
		}
		if filter.Before != nil {
			q = q.Where("createdAt", "<", filter.Before.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt, last.ID}})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data)
	}
	return page, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID:     strings.TrimSpace(order.UserID),
		Status:     string(order.Status),
		Currency:   strings.ToUpper(strings.TrimSpace(order.Currency)),
		CouponCode: strings.TrimSpace(order.CouponCode),
		Note:       strings.TrimSpace(order.Note),
		Summary: orderSummaryDocument{
			Subtotal:        order.Summary.Subtotal,
			DeliveryCharge:  order.Summary.DeliveryCharge,
			PackagingCharge: order.Summary.PackagingCharge,
			Discount:        order.Summary.Discount,
			Total:           order.Summary.Total,
		},
		Shipping: orderShippingDocument{
			Name:    order.Shipping.Name,
			Email:   order.Shipping.Email,
			Phone:   order.Shipping.Phone,
			Address: order.Shipping.Address,
			City:    order.Shipping.City,
			State:   order.Shipping.State,
			Pincode: order.Shipping.Pincode,
			Country: order.Shipping.Country,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		entry := orderItemDocument{
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
			entry.Variant = &cartItemVariantDocument{
				Name:            item.Variant.Name,
				PriceAdjustment: item.Variant.PriceAdjustment,
			}
		}
		doc.Items = append(doc.Items, entry)
	}
	if order.Payment != nil {
		doc.Payment = &orderPaymentDocument{
			Provider:       order.Payment.Provider,
			GatewayOrderID: order.Payment.GatewayOrderID,
			PaymentID:      order.Payment.PaymentID,
			Signature:      order.Payment.Signature,
			Amount:         order.Payment.Amount,
			Currency:       order.Payment.Currency,
			VerifiedAt:     order.Payment.VerifiedAt.UTC(),
		}
	}
	return doc
}

func decodeOrderDocument(doc orderDocument) domain.Order {
	order := domain.Order{
		ID:         doc.ID,
		UserID:     doc.UserID,
		Status:     domain.OrderStatus(doc.Status),
		Currency:   doc.Currency,
		CouponCode: doc.CouponCode,
		Note:       doc.Note,
		Summary: domain.ChargeSummary{
			Subtotal:        doc.Summary.Subtotal,
			DeliveryCharge:  doc.Summary.DeliveryCharge,
			PackagingCharge: doc.Summary.PackagingCharge,
			Discount:        doc.Summary.Discount,
			Total:           doc.Summary.Total,
		},
		Shipping: domain.ShippingDetails{
			Name:    doc.Shipping.Name,
			Email:   doc.Shipping.Email,
			Phone:   doc.Shipping.Phone,
			Address: doc.Shipping.Address,
			City:    doc.Shipping.City,
			State:   doc.Shipping.State,
			Pincode: doc.Shipping.Pincode,
			Country: doc.Shipping.Country,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, entry := range doc.Items {
		item := domain.OrderLineItem{
			LineItemID:            entry.LineItemID,
			SourceID:              entry.SourceID,
			Title:                 entry.Title,
			ArtistName:            entry.ArtistName,
			CustomizationImageURL: entry.CustomizationImageURL,
			DeliveryNote:          entry.DeliveryNote,
			Quantity:              entry.Quantity,
			UnitPrice:             entry.UnitPrice,
			Total:                 entry.Total,
		}
		if entry.Variant != nil {
			item.Variant = &domain.LineItemVariant{
				Name:            entry.Variant.Name,
				PriceAdjustment: entry.Variant.PriceAdjustment,
			}
		}
		order.Items = append(order.Items, item)
	}
	if doc.Payment != nil {
		order.Payment = &domain.OrderPayment{
			Provider:       doc.Payment.Provider,
			GatewayOrderID: doc.Payment.GatewayOrderID,
			PaymentID:      doc.Payment.PaymentID,
			Signature:      doc.Payment.Signature,
			Amount:         doc.Payment.Amount,
			Currency:       doc.Payment.Currency,
			VerifiedAt:     doc.Payment.VerifiedAt,
		}
	}
	return order
}

type orderDocument struct {
	ID         string                `firestore:"-"`
	UserID     string                `firestore:"userId"`
	Status     string                `firestore:"status"`
	Currency   string                `firestore:"currency"`
	CouponCode string                `firestore:"couponCode,omitempty"`
	Note       string                `firestore:"note,omitempty"`
	Items      []orderItemDocument   `firestore:"items"`
	Summary    orderSummaryDocument  `firestore:"summary"`
	Shipping   orderShippingDocument `firestore:"shipping"`
	Payment    *orderPaymentDocument `firestore:"payment,omitempty"`
	CreatedAt  time.Time             `firestore:"createdAt"`
	UpdatedAt  time.Time             `firestore:"updatedAt"`
}

type orderItemDocument struct {
	LineItemID            string                   `firestore:"lineItemId"`
	SourceID              string                   `firestore:"sourceId"`
	Title                 string                   `firestore:"title,omitempty"`
	ArtistName            string                   `firestore:"artistName,omitempty"`
	Variant               *cartItemVariantDocument `firestore:"variant,omitempty"`
	CustomizationImageURL string                   `firestore:"customizationImageUrl,omitempty"`
	DeliveryNote          string                   `firestore:"deliveryNote,omitempty"`
	Quantity              int                      `firestore:"quantity"`
	UnitPrice             int64                    `firestore:"unitPrice"`
	Total                 int64                    `firestore:"total"`
}

type orderSummaryDocument struct {
	Subtotal        int64 `firestore:"subtotal"`
	DeliveryCharge  int64 `firestore:"deliveryCharge"`
	PackagingCharge int64 `firestore:"packagingCharge"`
	Discount        int64 `firestore:"discount"`
	Total           int64 `firestore:"total"`
}

type orderShippingDocument struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	Pincode string `firestore:"pincode"`
	Country string `firestore:"country"`
}

type orderPaymentDocument struct {
	Provider       string    `firestore:"provider"`
	GatewayOrderID string    `firestore:"gatewayOrderId"`
	PaymentID      string    `firestore:"paymentId"`
	Signature      string    `firestore:"signature"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	VerifiedAt     time.Time `firestore:"verifiedAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
