package cache

import (
	"testing"
	"time"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("key1", "value1")
	now = now.Add(59 * time.Minute)
	if _, ok := c.Get("key1"); !ok {
		t.Fatal("entry expired early")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}

	c.evict()
	if c.Len() != 0 {
		t.Errorf("expected expired entry evicted, %d left", c.Len())
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](time.Minute)
	c.Close()
	c.Close()
	c.Set("k", 1)
	if v, ok := c.Get("k"); !ok || v != 1 {
		t.Fatal("cache unusable after Close")
	}
}
