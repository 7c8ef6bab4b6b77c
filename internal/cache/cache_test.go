package cache

import (
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Error("got a value for a missing key")
	}

	c.Set("key", "value")
	v, ok := c.Get("key")
	if !ok || v.(string) != "value" {
		t.Errorf("unexpected value %v ok=%v", v, ok)
	}

	c.Delete("key")
	if _, ok := c.Get("key"); ok {
		t.Error("deleted key still present")
	}
}

func TestExpiredEntryNotReturned(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	c.Set("key", 1)
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Error("expired entry still returned")
	}
}

func TestSetRefreshesExpiration(t *testing.T) {
	c := New(50 * time.Millisecond)
	defer c.Close()

	c.Set("key", 1)
	time.Sleep(30 * time.Millisecond)
	c.Set("key", 2)
	time.Sleep(30 * time.Millisecond)

	v, ok := c.Get("key")
	if !ok || v.(int) != 2 {
		t.Errorf("expected refreshed entry, got %v ok=%v", v, ok)
	}
}
