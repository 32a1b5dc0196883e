package cron

import (
	"context"
	"testing"
	"time"
)

type memoryStore struct {
	values  map[string]string
	deletes int
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	m.deletes++
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "rp:lock:capture-worker", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "rp:lock:capture-worker", 0)
	if first.TTL() != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", first.TTL())
	}

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(context.Background()); ok {
		t.Fatal("expected second acquire to lose")
	}
	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if store.deletes != 0 {
		t.Fatal("non-owner must not delete the lock")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.deletes != 1 {
		t.Fatal("expected owner release to delete the lock")
	}
	if ok, _ := second.Acquire(context.Background()); !ok {
		t.Fatal("expected lock to be free after release")
	}
}
