package utils

import (
	"strings"
	"sync"
	"testing"
)

func TestFilterEngine(t *testing.T) {
	tests := []struct {
		name           string
		patterns       []FilterPattern
		mode           FilterMode
		event          string
		shouldFilter   bool
		matchedPattern string
	}{
		{
			name:           "regex matches raw event",
			patterns:       []FilterPattern{{Type: "regex", Pattern: `"result":"success"`}},
			event:          `{"result":"success","user":{"name":"jdoe"}}`,
			shouldFilter:   true,
			matchedPattern: `regex("\"result\":\"success\"")`,
		},
		{
			name:     "regex no match",
			patterns: []FilterPattern{{Type: "regex", Pattern: "denied"}},
			event:    `{"result":"success"}`,
		},
		{
			name:           "gjson nested field",
			patterns:       []FilterPattern{{Type: "gjson", Path: "user.name", Pattern: "^svc-"}},
			event:          `{"user":{"name":"svc-backup"}}`,
			shouldFilter:   true,
			matchedPattern: `gjson(path="user.name", pattern="^svc-")`,
		},
		{
			name:     "gjson missing path",
			patterns: []FilterPattern{{Type: "gjson", Path: "access_device.ip", Pattern: `^10\.`}},
			event:    `{"user":{"name":"jdoe"}}`,
		},
		{
			name: "second pattern matches",
			patterns: []FilterPattern{
				{Type: "regex", Pattern: "fraud"},
				{Type: "gjson", Path: "eventtype", Pattern: "(?i)^AUTHENTICATION$"},
			},
			event:          `{"eventtype":"authentication"}`,
			shouldFilter:   true,
			matchedPattern: `gjson(path="eventtype", pattern="(?i)^AUTHENTICATION$")`,
		},
		{
			name:     "include mode keeps matching event",
			patterns: []FilterPattern{{Type: "gjson", Path: "result", Pattern: "^denied$"}},
			mode:     FilterModeInclude,
			event:    `{"result":"denied"}`,
		},
		{
			name:           "include mode drops non matching event",
			patterns:       []FilterPattern{{Type: "gjson", Path: "result", Pattern: "^denied$"}},
			mode:           FilterModeInclude,
			event:          `{"result":"success"}`,
			shouldFilter:   true,
			matchedPattern: "no pattern matched (include mode)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe, err := NewFilterEngine(tt.patterns, tt.mode, 0, nil)
			if err != nil {
				t.Fatalf("NewFilterEngine(): %v", err)
			}
			defer fe.Close()

			shouldFilter, matchedPattern := fe.ShouldFilter([]byte(tt.event))
			if shouldFilter != tt.shouldFilter {
				t.Errorf("ShouldFilter() = %v, want %v", shouldFilter, tt.shouldFilter)
			}
			if matchedPattern != tt.matchedPattern {
				t.Errorf("matchedPattern = %q, want %q", matchedPattern, tt.matchedPattern)
			}

			stats := fe.GetStats()
			if stats.TotalChecked != 1 {
				t.Errorf("TotalChecked = %d, want 1", stats.TotalChecked)
			}
			expectedFiltered := uint64(0)
			if tt.shouldFilter {
				expectedFiltered = 1
			}
			if stats.TotalFiltered != expectedFiltered {
				t.Errorf("TotalFiltered = %d, want %d", stats.TotalFiltered, expectedFiltered)
			}
		})
	}
}

func TestFilterEngineInvalid(t *testing.T) {
	if _, err := NewFilterEngine(nil, "", 0, nil); err == nil {
		t.Error("expected error for no patterns")
	}
	if _, err := NewFilterEngine([]FilterPattern{{Type: "regex", Pattern: "[invalid"}}, "", 0, nil); err == nil {
		t.Error("expected error for invalid regex")
	}
	if _, err := NewFilterEngine([]FilterPattern{{Type: "gjson", Pattern: "x"}}, "", 0, nil); err == nil {
		t.Error("expected error for gjson pattern without path")
	}
	if _, err := NewFilterEngine([]FilterPattern{{Type: "regex", Pattern: "x"}}, "both", 0, nil); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestFilterEngineFinalStats(t *testing.T) {
	var m sync.Mutex
	var logMessages []string
	logger := func(msg string) {
		m.Lock()
		defer m.Unlock()
		logMessages = append(logMessages, msg)
	}

	fe, err := NewFilterEngine([]FilterPattern{
		{Type: "regex", Pattern: "pattern1"},
		{Type: "regex", Pattern: "pattern2"},
	}, FilterModeExclude, 0, logger)
	if err != nil {
		t.Fatalf("NewFilterEngine(): %v", err)
	}

	for _, e := range []string{
		`{"m":"pattern1"}`,
		`{"m":"pattern2"}`,
		`{"m":"pattern1 again"}`,
		`{"m":"nothing"}`,
	} {
		fe.ShouldFilter([]byte(e))
	}

	stats := fe.GetStats()
	if stats.TotalChecked != 4 || stats.TotalFiltered != 3 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.PerPattern[0] != 2 || stats.PerPattern[1] != 1 {
		t.Errorf("unexpected per pattern counts: %v", stats.PerPattern)
	}

	fe.Close()
	fe.Close()

	m.Lock()
	defer m.Unlock()
	found := 0
	for _, msg := range logMessages {
		if strings.HasPrefix(msg, "Final filter stats: checked=4, filtered=3") {
			found++
		}
	}
	if found != 1 {
		t.Errorf("expected exactly one final stats line, got %v", logMessages)
	}
}

func TestParseFilterPattern(t *testing.T) {
	fp, err := ParseFilterPattern("gjson:access_device.ip:^10\\.0\\.")
	if err != nil {
		t.Fatalf("ParseFilterPattern(): %v", err)
	}
	if fp.Type != "gjson" || fp.Path != "access_device.ip" || fp.Pattern != `^10\.0\.` {
		t.Errorf("unexpected pattern: %+v", fp)
	}

	fp, err = ParseFilterPattern("regex:a:b")
	if err != nil {
		t.Fatalf("ParseFilterPattern(): %v", err)
	}
	if fp.Type != "regex" || fp.Pattern != "a:b" {
		t.Errorf("unexpected pattern: %+v", fp)
	}

	for _, bad := range []string{"nocolon", "gjson:onlypath", "glob:*", "regex:"} {
		if _, err := ParseFilterPattern(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
