package utils

import (
	"sync"
	"time"
)

// Event is a one-shot, resettable signal shared between goroutines.
type Event struct {
	m  sync.Mutex
	ch chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

func (e *Event) Set() {
	e.m.Lock()
	defer e.m.Unlock()

	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

func (e *Event) Clear() {
	e.m.Lock()
	defer e.m.Unlock()

	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

// Done returns a channel closed once the event is set.
func (e *Event) Done() <-chan struct{} {
	e.m.Lock()
	defer e.m.Unlock()
	return e.ch
}

func (e *Event) Wait() {
	<-e.Done()
}

// WaitFor returns true if the event was set before d elapsed.
func (e *Event) WaitFor(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-e.Done():
		return true
	case <-t.C:
		return false
	}
}

func (e *Event) IsSet() bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}
