package notify

import (
	"context"
	"testing"

	"bookstore/pkg/clientstore"
)

func TestFlashIsConsumedOnce(t *testing.T) {
	storage, _ := clientstore.NewMemoryBackend().Namespace("v1")
	ctx := context.Background()

	Flash(ctx, storage, Notification{Message: "Book added successfully!"})
	n, ok := Take(ctx, storage)
	if !ok || n.Kind != Success || n.Message != "Book added successfully!" {
		t.Fatalf("unexpected notification %+v ok=%v", n, ok)
	}
	if _, ok := Take(ctx, storage); ok {
		t.Fatalf("notification must be consumed")
	}
}

func TestTakeIgnoresMalformedFlash(t *testing.T) {
	storage, _ := clientstore.NewMemoryBackend().Namespace("v1")
	ctx := context.Background()
	_ = storage.Set(ctx, clientstore.FlashKey, "{oops")
	if _, ok := Take(ctx, storage); ok {
		t.Fatalf("malformed flash should be dropped")
	}
	if _, ok, _ := storage.Get(ctx, clientstore.FlashKey); ok {
		t.Fatalf("malformed flash should be cleared")
	}
}
