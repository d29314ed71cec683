package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduperDetectsReplay(t *testing.T) {
	d := newMemoryDeduper(time.Minute)

	seen, err := d.Seen(context.Background(), "mpesa:txn-1:completed")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if seen {
		t.Fatal("expected first delivery to be unseen")
	}

	seen, err = d.Seen(context.Background(), "mpesa:txn-1:completed")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !seen {
		t.Fatal("expected second delivery to be seen")
	}
}

func TestMemoryDeduperKeysAreIndependent(t *testing.T) {
	d := newMemoryDeduper(time.Minute)

	_, _ = d.Seen(context.Background(), "mpesa:txn-1:completed")
	seen, _ := d.Seen(context.Background(), "mpesa:txn-1:failed")
	if seen {
		t.Fatal("expected a different outcome key to be unseen")
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := newMemoryDeduper(10 * time.Millisecond)

	_, _ = d.Seen(context.Background(), "mpesa:txn-1:completed")
	time.Sleep(20 * time.Millisecond)

	seen, _ := d.Seen(context.Background(), "mpesa:txn-1:completed")
	if seen {
		t.Fatal("expected the key to expire")
	}
}

func TestNewDeduperWithoutAddrUsesMemory(t *testing.T) {
	d, err := NewDeduper("", "", 0, time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := d.(*memoryDeduper); !ok {
		t.Fatalf("expected memory deduper, got %T", d)
	}
}
