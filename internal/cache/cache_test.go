package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-1", "key-1", []byte("value-1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "tenant-1", "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value-1" {
		t.Errorf("expected value-1, got %s", val)
	}

	val, err = c.Get(ctx, "tenant-1", "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for missing key, got %s", val)
	}
}

func TestLRUCacheTenantIsolation(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-1", "shared", []byte("one"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, "tenant-2", "shared", []byte("two"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, _ := c.Get(ctx, "tenant-1", "shared")
	if string(val) != "one" {
		t.Errorf("tenant-1 expected one, got %s", val)
	}
	val, _ = c.Get(ctx, "tenant-2", "shared")
	if string(val) != "two" {
		t.Errorf("tenant-2 expected two, got %s", val)
	}
}

func TestLRUCacheExpiration(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-1", "short", []byte("gone"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "tenant-1", "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected expired entry to be gone, got %s", val)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, "tenant-1", key, []byte(key), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Touch "a" so "b" becomes the oldest.
	if _, err := c.Get(ctx, "tenant-1", "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := c.Set(ctx, "tenant-1", "d", []byte("d"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if val, _ := c.Get(ctx, "tenant-1", "b"); val != nil {
		t.Errorf("expected b to be evicted, got %s", val)
	}
	if val, _ := c.Get(ctx, "tenant-1", "a"); string(val) != "a" {
		t.Errorf("expected a to survive eviction, got %s", val)
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 capacity 3, got %d/%d", size, capacity)
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-1", "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Delete(ctx, "tenant-1", "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := c.Get(ctx, "tenant-1", "key"); val != nil {
		t.Errorf("expected deleted key to be gone, got %s", val)
	}
}

func TestLRUCacheArtifactRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	data := []byte(`{"schema_version":1}`)
	if err := c.SetArtifact(ctx, "tenant-1", "LATE_PAYMENT", data, time.Hour); err != nil {
		t.Fatalf("SetArtifact failed: %v", err)
	}

	got, err := c.GetArtifact(ctx, "tenant-1", "LATE_PAYMENT")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("artifact mismatch: got %s", got)
	}

	// Artifacts are tenant-scoped.
	if got, _ := c.GetArtifact(ctx, "tenant-2", "LATE_PAYMENT"); got != nil {
		t.Errorf("expected no artifact for tenant-2, got %s", got)
	}
}

func TestLRUCacheCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-1", "batches", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected counter %d, got %d", want, got)
		}
	}

	got, err := c.IncrementCounter(ctx, "tenant-2", "batches", time.Minute)
	if err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if got != 1 {
		t.Errorf("expected tenant-2 counter to start at 1, got %d", got)
	}
}

func TestLRUCachePersistentCounter(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	// Zero window means the sequence never resets.
	for want := int64(1); want <= 5; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-1", "batch_seq", 0)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Fatal("expected error for unsupported cache type")
	}
}
