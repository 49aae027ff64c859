package firestore

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore"
)

func TestTxFromContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := TxFromContext(ctx); ok {
		t.Fatal("expected no transaction on a bare context")
	}

	tx := &firestore.Transaction{}
	ctx = WithTx(ctx, tx)
	got, ok := TxFromContext(ctx)
	if !ok || got != tx {
		t.Fatalf("expected the stored transaction back, got %v ok=%v", got, ok)
	}
}

func TestWithTxNilTransactionLeavesContextUntouched(t *testing.T) {
	ctx := context.Background()
	if WithTx(ctx, nil) != ctx {
		t.Fatal("expected identical context for nil transaction")
	}
	if _, ok := TxFromContext(WithTx(ctx, nil)); ok {
		t.Fatal("expected no transaction after nil WithTx")
	}
}
