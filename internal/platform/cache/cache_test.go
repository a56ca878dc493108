package cache

import (
	"context"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	s := NewInMemoryStore()
	s.Set("k", "v", time.Minute)

	got, ok := s.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != "v" {
		t.Errorf("expected v, got %v", got)
	}
}

func TestGet_Expired(t *testing.T) {
	s := NewInMemoryStore()
	s.Set("k", "v", -time.Second)

	if _, ok := s.Get("k"); ok {
		t.Error("expected expired entry to miss")
	}
	s.mu.RLock()
	_, present := s.entries["k"]
	s.mu.RUnlock()
	if present {
		t.Error("expected lazy expiration to delete the entry")
	}
}

func TestDeleteIfExpired_KeepsRefreshedEntry(t *testing.T) {
	s := NewInMemoryStore()
	// Stands in for a Set racing between Get's expiry check and its delete:
	// the refreshed entry must survive.
	s.Set("k", "new", time.Minute)
	s.deleteIfExpired("k")
	if got, ok := s.Get("k"); !ok || got != "new" {
		t.Fatalf("refreshed entry removed: %v, %v", got, ok)
	}

	s.Set("stale", "v", -time.Second)
	s.deleteIfExpired("stale")
	s.mu.RLock()
	_, present := s.entries["stale"]
	s.mu.RUnlock()
	if present {
		t.Error("expected expired entry to be removed")
	}
}

func TestSetNX(t *testing.T) {
	s := NewInMemoryStore()

	if !s.SetNX("token", "first", time.Minute) {
		t.Fatal("expected first SetNX to succeed")
	}
	if s.SetNX("token", "second", time.Minute) {
		t.Fatal("expected second SetNX to fail while occupied")
	}
	got, _ := s.Get("token")
	if got != "first" {
		t.Errorf("expected first value retained, got %v", got)
	}
}

func TestSetNX_AfterExpiry(t *testing.T) {
	s := NewInMemoryStore()
	s.Set("token", "stale", -time.Second)

	if !s.SetNX("token", "fresh", time.Minute) {
		t.Fatal("expected SetNX to succeed over an expired entry")
	}
	got, _ := s.Get("token")
	if got != "fresh" {
		t.Errorf("expected fresh, got %v", got)
	}
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore()
	s.Set("k", "v", time.Minute)
	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestKeys_Prefix(t *testing.T) {
	s := NewInMemoryStore()
	s.Set(PrefixLinkToken+"abc", 1, time.Minute)
	s.Set(PrefixLinkToken+"def", 2, time.Minute)
	s.Set(PrefixLinkCareContext+"abc", 3, time.Minute)
	s.Set(PrefixLinkToken+"expired", 4, -time.Second)

	keys := s.Keys(PrefixLinkToken)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestStartCleanup(t *testing.T) {
	s := NewInMemoryStore()
	s.Set("short", "v", 5*time.Millisecond)
	s.Set("long", "v", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartCleanup(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		_, present := s.entries["short"]
		s.mu.RUnlock()
		if !present {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.mu.RLock()
	_, shortPresent := s.entries["short"]
	_, longPresent := s.entries["long"]
	s.mu.RUnlock()
	if shortPresent {
		t.Error("expected expired entry to be cleaned up")
	}
	if !longPresent {
		t.Error("expected live entry to survive cleanup")
	}
}
