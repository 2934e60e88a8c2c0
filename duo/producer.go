package duo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/refractionPOINT/duologsync/config"
	"github.com/refractionPOINT/duologsync/utils"
)

const (
	defaultDedupeWindow = 1 * time.Minute
	defaultDedupeTTL    = 30 * time.Minute
)

// Sink receives every event the producer fetches.
type Sink interface {
	Ship(ctx context.Context, endpoint string, event json.RawMessage) error
}

type Options struct {
	DebugLog  func(msg string)
	OnWarning func(msg string)
	OnError   func(err error)

	// Filter, when set, drops matching events before they are shipped.
	Filter *utils.FilterEngine

	// DedupeTTL is how long shipped events are remembered. Defaults to 30m.
	DedupeTTL time.Duration
}

type EndpointStats struct {
	LastPoll   time.Time `json:"last_poll"`
	Cursor     time.Time `json:"cursor"`
	Shipped    uint64    `json:"shipped"`
	Filtered   uint64    `json:"filtered"`
	Duplicates uint64    `json:"duplicates"`
	Errors     uint64    `json:"errors"`
	LastError  string    `json:"last_error,omitempty"`
}

// Producer polls every enabled endpoint and hands the events to a Sink.
type Producer struct {
	conf *config.Config
	api  Fetcher
	sink Sink
	opts Options

	m     sync.Mutex
	stats map[string]*EndpointStats
}

func NewProducer(conf *config.Config, api Fetcher, sink Sink, opts Options) (*Producer, error) {
	if conf == nil {
		return nil, errors.New("missing config")
	}
	if api == nil {
		return nil, errors.New("missing api client")
	}
	if sink == nil {
		return nil, errors.New("missing sink")
	}
	if opts.DebugLog == nil {
		opts.DebugLog = func(string) {}
	}
	if opts.OnWarning == nil {
		opts.OnWarning = func(string) {}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	if opts.DedupeTTL == 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}

	p := &Producer{
		conf:  conf,
		api:   api,
		sink:  sink,
		opts:  opts,
		stats: map[string]*EndpointStats{},
	}
	for _, ep := range conf.EnabledEndpoints() {
		p.stats[ep] = &EndpointStats{Cursor: conf.Offset()}
	}
	return p, nil
}

// Run polls until ctx is cancelled or shipping fails. A cancelled context
// is not an error.
func (p *Producer) Run(ctx context.Context) error {
	window := defaultDedupeWindow
	if window > p.opts.DedupeTTL {
		window = p.opts.DedupeTTL
	}
	deduper, err := utils.NewLocalDeduper(window, p.opts.DedupeTTL)
	if err != nil {
		return fmt.Errorf("deduper: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, ep := range p.conf.EnabledEndpoints() {
		g.Go(func() error {
			return p.poll(ctx, ep, deduper)
		})
	}
	return g.Wait()
}

func (p *Producer) poll(ctx context.Context, endpoint string, deduper utils.Deduper) error {
	interval := p.conf.PollingDuration()
	cur := Cursor{MinTime: p.conf.Offset()}
	p.opts.DebugLog(fmt.Sprintf("%s: polling every %s from %s", endpoint, interval, cur.MinTime.UTC().Format(time.RFC3339)))
	defer p.opts.DebugLog(fmt.Sprintf("%s: stopped polling", endpoint))

	for {
		if ctx.Err() != nil {
			return nil
		}
		page, err := p.api.Fetch(endpoint, cur)
		if err != nil {
			p.recordError(endpoint, err)
			p.opts.OnError(fmt.Errorf("%s: %v", endpoint, err))
		} else {
			if err := p.ship(ctx, endpoint, page, deduper); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: Ship(): %v", endpoint, err)
			}
			prev := cur
			cur = Advance(endpoint, cur, page)
			p.recordPoll(endpoint, cur)
			if len(page.Events) != 0 && !moved(prev, cur) {
				p.opts.OnWarning(fmt.Sprintf("%s: failed to get next time from last event, cursor stays at %s", endpoint, cur.MinTime.UTC().Format(time.RFC3339)))
			}
			if page.HasMore && moved(prev, cur) {
				continue
			}
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (p *Producer) ship(ctx context.Context, endpoint string, page *Page, deduper utils.Deduper) error {
	for _, event := range page.Events {
		if deduper.CheckAndAdd(dedupeKey(endpoint, event)) {
			p.count(endpoint, func(s *EndpointStats) { s.Duplicates++ })
			continue
		}
		if p.opts.Filter != nil {
			if filtered, why := p.opts.Filter.ShouldFilter(event); filtered {
				p.opts.DebugLog(fmt.Sprintf("%s: event filtered by %s", endpoint, why))
				p.count(endpoint, func(s *EndpointStats) { s.Filtered++ })
				continue
			}
		}
		if err := p.sink.Ship(ctx, endpoint, event); err != nil {
			return err
		}
		p.count(endpoint, func(s *EndpointStats) { s.Shipped++ })
	}
	if len(page.Events) != 0 {
		p.opts.DebugLog(fmt.Sprintf("%s: fetched %d events", endpoint, len(page.Events)))
	}
	return nil
}

func moved(prev, cur Cursor) bool {
	if !prev.MinTime.Equal(cur.MinTime) || len(prev.NextOffset) != len(cur.NextOffset) {
		return true
	}
	for i := range prev.NextOffset {
		if prev.NextOffset[i] != cur.NextOffset[i] {
			return true
		}
	}
	return false
}

// dedupeKey uses the transaction id when the event has one.
func dedupeKey(endpoint string, event json.RawMessage) string {
	if txid := gjson.GetBytes(event, "txid"); txid.Exists() && txid.String() != "" {
		return endpoint + ":" + txid.String()
	}
	h := sha256.Sum256(event)
	return endpoint + ":" + hex.EncodeToString(h[:])
}

func (p *Producer) count(endpoint string, f func(s *EndpointStats)) {
	p.m.Lock()
	defer p.m.Unlock()
	f(p.stats[endpoint])
}

func (p *Producer) recordError(endpoint string, err error) {
	p.count(endpoint, func(s *EndpointStats) {
		s.LastPoll = time.Now()
		s.Errors++
		s.LastError = err.Error()
	})
}

func (p *Producer) recordPoll(endpoint string, cur Cursor) {
	p.count(endpoint, func(s *EndpointStats) {
		s.LastPoll = time.Now()
		s.Cursor = cur.MinTime
		s.LastError = ""
	})
}

// Stats returns a snapshot of the per-endpoint counters.
func (p *Producer) Stats() map[string]EndpointStats {
	p.m.Lock()
	defer p.m.Unlock()
	out := make(map[string]EndpointStats, len(p.stats))
	for k, v := range p.stats {
		out[k] = *v
	}
	return out
}
