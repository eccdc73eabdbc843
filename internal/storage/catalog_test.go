package storage

import (
	"context"
	"errors"
	"testing"
)

func TestUnimplementedCatalogReturnsErrNotImplemented(t *testing.T) {
	cat := NewUnimplementedCatalog()
	ctx := context.Background()

	if _, err := cat.ListNamespaces(ctx); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("ListNamespaces: expected ErrNotImplemented, got %v", err)
	}
	if _, err := cat.GetTable(ctx, "ns", "t"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("GetTable: expected ErrNotImplemented, got %v", err)
	}
	if _, err := cat.TableExists(ctx, "ns", "t"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("TableExists: expected ErrNotImplemented, got %v", err)
	}
	if _, err := cat.CommitDelta(ctx, Delta{}); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("CommitDelta: expected ErrNotImplemented, got %v", err)
	}
	if err := cat.DeletePartition(ctx, Partition{}); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("DeletePartition: expected ErrNotImplemented, got %v", err)
	}
}
