package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// LogFunc is a function that logs a message.
type LogFunc func(string)

// FilterMode determines how filter patterns are applied.
type FilterMode string

const (
	// FilterModeExclude (default) drops events that match any pattern.
	FilterModeExclude FilterMode = "exclude"

	// FilterModeInclude only keeps events that match at least one pattern.
	FilterModeInclude FilterMode = "include"
)

// FilterPattern is one matching rule applied to a JSON event.
//
//   - "regex" matches against the raw event JSON.
//   - "gjson" extracts Path with gjson syntax and matches the value,
//     e.g. path "result" pattern "^(success)$" or path "access_device.ip"
//     pattern "^10\.".
type FilterPattern struct {
	Type    string `json:"type" yaml:"type"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ParseFilterPattern reads the CLI form of a pattern:
// `regex:<pattern>` or `gjson:<path>:<pattern>`.
func ParseFilterPattern(s string) (FilterPattern, error) {
	components := strings.SplitN(s, ":", 2)
	if len(components) != 2 {
		return FilterPattern{}, fmt.Errorf("invalid filter %q, expected regex:<pattern> or gjson:<path>:<pattern>", s)
	}
	fp := FilterPattern{Type: components[0]}
	switch fp.Type {
	case "regex":
		fp.Pattern = components[1]
	case "gjson":
		rest := strings.SplitN(components[1], ":", 2)
		if len(rest) != 2 {
			return FilterPattern{}, fmt.Errorf("invalid gjson filter %q, expected gjson:<path>:<pattern>", s)
		}
		fp.Path = rest[0]
		fp.Pattern = rest[1]
	}
	return fp, fp.Validate()
}

// Validate checks if the FilterPattern is valid and returns an error if not.
func (fp *FilterPattern) Validate() error {
	if fp.Type != "regex" && fp.Type != "gjson" {
		return fmt.Errorf("invalid filter type %q, must be 'regex' or 'gjson'", fp.Type)
	}
	if strings.TrimSpace(fp.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty or whitespace-only")
	}
	if fp.Type == "gjson" && strings.TrimSpace(fp.Path) == "" {
		return fmt.Errorf("path is required for gjson filter type")
	}
	if _, err := regexp.Compile(fp.Pattern); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

func (fp FilterPattern) String() string {
	if fp.Type == "gjson" {
		return fmt.Sprintf("gjson(path=%q, pattern=%q)", fp.Path, fp.Pattern)
	}
	return fmt.Sprintf("regex(%q)", fp.Pattern)
}

type FilterStats struct {
	TotalChecked  uint64
	TotalFiltered uint64
	PerPattern    []uint64
}

type matcher struct {
	FilterPattern
	re *regexp.Regexp
}

// FilterEngine decides which events are dropped before shipping.
type FilterEngine struct {
	matchers []matcher
	mode     FilterMode

	matches       []uint64
	totalChecked  uint64
	totalFiltered uint64

	logger        LogFunc
	stopReporting *Event
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewFilterEngine compiles patterns. An empty mode means exclude. Stats are
// logged every reportEvery (0 disables periodic reports) and on Close.
func NewFilterEngine(patterns []FilterPattern, mode FilterMode, reportEvery time.Duration, logger LogFunc) (*FilterEngine, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no patterns provided")
	}
	if logger == nil {
		logger = func(string) {}
	}
	if mode == "" {
		mode = FilterModeExclude
	}
	if mode != FilterModeExclude && mode != FilterModeInclude {
		return nil, fmt.Errorf("invalid filter mode %q, must be 'exclude' or 'include'", mode)
	}

	fe := &FilterEngine{
		mode:          mode,
		matches:       make([]uint64, len(patterns)),
		logger:        logger,
		stopReporting: NewEvent(),
	}
	for i, pat := range patterns {
		if err := pat.Validate(); err != nil {
			return nil, fmt.Errorf("pattern %d validation failed: %w", i, err)
		}
		fe.matchers = append(fe.matchers, matcher{
			FilterPattern: pat,
			re:            regexp.MustCompile(pat.Pattern),
		})
	}

	if reportEvery > 0 {
		fe.wg.Add(1)
		go func() {
			defer fe.wg.Done()
			for !fe.stopReporting.WaitFor(reportEvery) {
				fe.logStats("Filter stats")
			}
		}()
	}

	logger(fmt.Sprintf("filter engine initialized with %d patterns in %s mode", len(patterns), mode))
	return fe, nil
}

// ShouldFilter reports whether event (raw JSON) must be dropped, and why.
func (fe *FilterEngine) ShouldFilter(event []byte) (bool, string) {
	atomic.AddUint64(&fe.totalChecked, 1)

	matched, desc := fe.matchesAnyPattern(event)
	if fe.mode == FilterModeInclude {
		if !matched {
			atomic.AddUint64(&fe.totalFiltered, 1)
			return true, "no pattern matched (include mode)"
		}
		return false, ""
	}
	if matched {
		atomic.AddUint64(&fe.totalFiltered, 1)
		return true, desc
	}
	return false, ""
}

func (fe *FilterEngine) matchesAnyPattern(event []byte) (bool, string) {
	for i, m := range fe.matchers {
		var value string
		if m.Type == "gjson" {
			r := gjson.GetBytes(event, m.Path)
			if !r.Exists() {
				continue
			}
			value = r.String()
		} else {
			value = string(event)
		}
		if m.re.MatchString(value) {
			atomic.AddUint64(&fe.matches[i], 1)
			return true, m.String()
		}
	}
	return false, ""
}

func (fe *FilterEngine) GetStats() FilterStats {
	s := FilterStats{
		TotalChecked:  atomic.LoadUint64(&fe.totalChecked),
		TotalFiltered: atomic.LoadUint64(&fe.totalFiltered),
		PerPattern:    make([]uint64, len(fe.matches)),
	}
	for i := range fe.matches {
		s.PerPattern[i] = atomic.LoadUint64(&fe.matches[i])
	}
	return s
}

func (fe *FilterEngine) logStats(prefix string) {
	s := fe.GetStats()
	if s.TotalChecked == 0 {
		return
	}
	fe.logger(fmt.Sprintf("%s: checked=%d, filtered=%d (%.2f%%)",
		prefix, s.TotalChecked, s.TotalFiltered, float64(s.TotalFiltered)/float64(s.TotalChecked)*100))
	for i, n := range s.PerPattern {
		if n > 0 {
			fe.logger(fmt.Sprintf("  - pattern %d %s: %d matches", i, fe.matchers[i], n))
		}
	}
}

// Close stops the stats reporter and logs final statistics. Safe to call
// more than once.
func (fe *FilterEngine) Close() {
	fe.closeOnce.Do(func() {
		fe.stopReporting.Set()
		fe.wg.Wait()
		fe.logStats("Final filter stats")
	})
}
