package utils

import (
	"errors"
	"sync"
	"time"
)

type Deduper interface {
	CheckAndAdd(key string) (alreadyExists bool)
}

// localDeduper spreads keys over buckets of one window each. Buckets are
// recycled on access as the clock moves, so a key is remembered for at
// least ttl and forgotten within ttl plus two windows.
type localDeduper struct {
	window time.Duration
	now    func() time.Time

	m       sync.Mutex
	current int
	started time.Time
	buckets []map[string]struct{}
}

func NewLocalDeduper(window time.Duration, ttl time.Duration) (Deduper, error) {
	return newLocalDeduper(window, ttl, time.Now)
}

func newLocalDeduper(window time.Duration, ttl time.Duration, now func() time.Time) (*localDeduper, error) {
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if window > ttl {
		return nil, errors.New("window is larger than ttl")
	}
	n := int((ttl + window - 1) / window)
	buckets := make([]map[string]struct{}, n+1)
	for i := range buckets {
		buckets[i] = map[string]struct{}{}
	}
	return &localDeduper{
		window:  window,
		now:     now,
		started: now(),
		buckets: buckets,
	}, nil
}

// advance recycles one bucket per window elapsed since the current one
// started.
func (d *localDeduper) advance() {
	steps := int(d.now().Sub(d.started) / d.window)
	if steps <= 0 {
		return
	}
	d.started = d.started.Add(time.Duration(steps) * d.window)
	if steps > len(d.buckets) {
		steps = len(d.buckets)
	}
	for i := 0; i < steps; i++ {
		d.current = (d.current + 1) % len(d.buckets)
		d.buckets[d.current] = map[string]struct{}{}
	}
}

func (d *localDeduper) CheckAndAdd(key string) bool {
	d.m.Lock()
	defer d.m.Unlock()

	d.advance()
	for _, b := range d.buckets {
		if _, ok := b[key]; ok {
			return true
		}
	}
	d.buckets[d.current][key] = struct{}{}
	return false
}
