package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/kalamkaar/api/internal/domain"
	pfirestore "github.com/kalamkaar/api/internal/platform/firestore"
	"github.com/kalamkaar/api/internal/repositories"
)

const (
	sessionCartCollection = "sessionCarts"
)

// SessionCartRepository persists anonymous carts keyed by session ID.
// Each session holds exactly one document that is replaced wholesale on
// every mutation.
type SessionCartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewSessionCartRepository constructs a Firestore-backed session cart repository.
func NewSessionCartRepository(provider *pfirestore.Provider) (*SessionCartRepository, error) {
	if provider == nil {
		return nil, errors.New("session cart repository requires firestore provider")
	}
	return &SessionCartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, sessionCartCollection, nil, nil),
	}, nil
}

// Get loads the session cart. A session that never added anything reads
// as NotFound; callers map that to an empty cart.
func (r *SessionCartRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("session cart repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Cart{}, errors.New("session cart repository: session id is required")
	}

	doc, err := r.base.Get(ctx, sid)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := decodeCartDocument(doc.ID, doc.Data, doc.UpdateTime)
	cart.UserID = ""
	cart.SessionID = doc.ID
	return cart, nil
}

// Replace overwrites the session cart document with the given state.
func (r *SessionCartRepository) Replace(ctx context.Context, sessionID string, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("session cart repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Cart{}, errors.New("session cart repository: session id is required")
	}

	doc := encodeCartDocument(cart)
	doc.SessionID = sid
	result, err := r.base.Set(ctx, sid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = sid
	saved.UserID = ""
	saved.SessionID = sid
	if !result.UpdateTime.IsZero() {
		saved.UpdatedAt = result.UpdateTime
	}
	return saved, nil
}

// Delete removes the session cart document. Deleting an absent document
// is not an error.
func (r *SessionCartRepository) Delete(ctx context.Context, sessionID string) error {
	if r == nil || r.base == nil {
		return errors.New("session cart repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return errors.New("session cart repository: session id is required")
	}

	return r.base.Delete(ctx, sid)
}

var _ repositories.SessionCartRepository = (*SessionCartRepository)(nil)
