package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), s
}

func TestLockIsExclusive(t *testing.T) {
	locker, _ := setupTestLocker(t, time.Minute)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "event:pol_a:evt_1")
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}

	if _, err := locker.Lock(ctx, "event:pol_a:evt_1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	other, err := locker.Lock(ctx, "event:pol_a:evt_2")
	if err != nil {
		t.Fatalf("independent key should lock: %v", err)
	}
	other()

	unlock()
	again, err := locker.Lock(ctx, "event:pol_a:evt_1")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	again()
}

func TestLockExpires(t *testing.T) {
	locker, s := setupTestLocker(t, 50*time.Millisecond)
	ctx := context.Background()

	if _, err := locker.Lock(ctx, "event:pol_a:evt_1"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	s.FastForward(100 * time.Millisecond)

	if _, err := locker.Lock(ctx, "event:pol_a:evt_1"); err != nil {
		t.Fatalf("expected expired lock to be reacquirable: %v", err)
	}
}

func TestStaleUnlockKeepsNewHolder(t *testing.T) {
	locker, s := setupTestLocker(t, 50*time.Millisecond)
	ctx := context.Background()

	staleUnlock, err := locker.Lock(ctx, "evt")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	s.FastForward(100 * time.Millisecond)

	if _, err := locker.Lock(ctx, "evt"); err != nil {
		t.Fatalf("second holder Lock failed: %v", err)
	}
	staleUnlock()

	if !s.Exists("lock:evt") {
		t.Fatal("stale unlock removed the new holder's key")
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNoopNeverContends(t *testing.T) {
	var l Locker = Noop{}
	for i := 0; i < 2; i++ {
		unlock, err := l.Lock(context.Background(), "evt")
		if err != nil {
			t.Fatalf("Noop Lock failed: %v", err)
		}
		unlock()
	}
}

var _ Locker = (*RedisLocker)(nil)
