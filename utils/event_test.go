package utils

import (
	"testing"
	"time"
)

func TestEvent(t *testing.T) {
	e := NewEvent()
	if e.IsSet() {
		t.Error("new event should not be set")
	}
	if e.WaitFor(10 * time.Millisecond) {
		t.Error("WaitFor should time out on an unset event")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Set()
	}()
	if !e.WaitFor(5 * time.Second) {
		t.Error("WaitFor should return true once set")
	}
	e.Wait()
	e.Set()
	if !e.IsSet() {
		t.Error("event should be set")
	}

	e.Clear()
	if e.IsSet() {
		t.Error("event should be cleared")
	}
	e.Clear()
	if e.WaitFor(10 * time.Millisecond) {
		t.Error("WaitFor should time out after Clear")
	}
}
