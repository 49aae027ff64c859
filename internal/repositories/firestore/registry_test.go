package firestore

import (
	"testing"

	"github.com/kalamkaar/api/internal/platform/config"
	pfirestore "github.com/kalamkaar/api/internal/platform/firestore"
)

func TestNewRegistryRequiresProvider(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestNewRegistryExposesCoreRepositories(t *testing.T) {
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "test-project"})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	if reg.Carts() == nil {
		t.Fatalf("expected cart repository")
	}
	if reg.SessionCarts() == nil {
		t.Fatalf("expected session cart repository")
	}
	if reg.Coupons() == nil {
		t.Fatalf("expected coupon repository")
	}
	if reg.Orders() == nil {
		t.Fatalf("expected order repository")
	}
	if reg.Assets() != nil {
		t.Fatalf("expected nil asset repository when not attached")
	}
	if reg.Health() != nil {
		t.Fatalf("expected nil health repository when not attached")
	}
}
