package utils

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestLocalDeduper_CheckAndAdd(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	d, err := newLocalDeduper(time.Minute, 5*time.Minute, clock.now)
	if err != nil {
		t.Fatalf("error creating deduper: %v", err)
	}

	if d.CheckAndAdd("auth:txid-1") {
		t.Error("auth:txid-1 should not exist")
	}
	if !d.CheckAndAdd("auth:txid-1") {
		t.Error("auth:txid-1 should exist")
	}
	if d.CheckAndAdd("telephony:txid-1") {
		t.Error("telephony:txid-1 should not exist")
	}

	clock.t = clock.t.Add(4*time.Minute + 59*time.Second)
	if !d.CheckAndAdd("auth:txid-1") {
		t.Error("auth:txid-1 should still exist before ttl")
	}
	if d.CheckAndAdd("auth:txid-2") {
		t.Error("auth:txid-2 should not exist")
	}
	clock.t = clock.t.Add(2 * time.Second)
	if !d.CheckAndAdd("auth:txid-1") {
		t.Error("auth:txid-1 should still exist right after ttl")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if d.CheckAndAdd("telephony:txid-1") {
		t.Error("telephony:txid-1 should not exist after ttl plus two windows")
	}
	if !d.CheckAndAdd("auth:txid-2") {
		t.Error("auth:txid-2 should exist")
	}
}

func TestLocalDeduper_LongIdle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	d, err := newLocalDeduper(time.Minute, 3*time.Minute, clock.now)
	if err != nil {
		t.Fatalf("error creating deduper: %v", err)
	}
	for i := 0; i < 10; i++ {
		d.CheckAndAdd(fmt.Sprintf("adminaction:%d", i))
	}

	clock.t = clock.t.Add(24 * time.Hour)
	for i := 0; i < 10; i++ {
		if d.CheckAndAdd(fmt.Sprintf("adminaction:%d", i)) {
			t.Errorf("adminaction:%d should not exist after a day", i)
		}
	}
	if !d.CheckAndAdd("adminaction:0") {
		t.Error("adminaction:0 should exist again")
	}
}

func TestLocalDeduper_InvalidWindow(t *testing.T) {
	if _, err := NewLocalDeduper(time.Second, time.Millisecond); err == nil {
		t.Error("expected error when window is larger than ttl")
	}
	if _, err := NewLocalDeduper(0, time.Second); err == nil {
		t.Error("expected error for zero window")
	}
	if _, err := NewLocalDeduper(time.Second, time.Second); err != nil {
		t.Errorf("window equal to ttl should be accepted: %v", err)
	}
}
