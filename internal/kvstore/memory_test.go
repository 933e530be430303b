package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.Get(ctx, "missing"); err != nil || ok {
		t.Error("should not find missing key")
	}

	if err := m.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatal("should find k1")
	}
	if val != "v1" {
		t.Errorf("value = %q, want %q", val, "v1")
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "k1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "expiring", "data", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "expiring"); ok {
		t.Error("entry should be expired")
	}
}

func TestMemory_NoTTLNeverExpires(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "forever", "data", 0); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Error("zero TTL should mean no expiry")
	}
}

func TestMemory_Keys(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_ = m.Set(ctx, "graph:g1:summary", "a", time.Minute)
	_ = m.Set(ctx, "graph:g1:cost", "b", time.Minute)
	_ = m.Set(ctx, "graph:g2:summary", "c", time.Minute)

	keys, err := m.Keys(ctx, "graph:g1:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2: %v", len(keys), keys)
	}
}

func TestMemory_AppendRangeCapped(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"e1", "e2", "e3", "e4"} {
		if err := m.Append(ctx, "ops:op1", v, 3); err != nil {
			t.Fatal(err)
		}
	}

	all, err := m.Range(ctx, "ops:op1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3 (capped): %v", len(all), all)
	}
	if all[0] != "e4" {
		t.Errorf("newest entry = %q, want e4", all[0])
	}

	limited, err := m.Range(ctx, "ops:op1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d entries, want 2", len(limited))
	}
}

func TestMemory_RangeEmptyKey(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	out, err := m.Range(context.Background(), "missing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("got %d entries, want 0", len(out))
	}
}
