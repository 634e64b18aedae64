package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DefaultProgressStep is the percentage bucket width used by NewProgressFilter.
const DefaultProgressStep = 10

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})(?:\.\d+)?%`)
	digitsPattern  = regexp.MustCompile(`\d+`)
)

// ProgressFilter forwards lines of tool output to a logger while dropping
// repeated lines and collapsing percentage updates into buckets.
//
// A filter holds the state of a single output stream. Create one per script
// invocation.
type ProgressFilter struct {
	Logger *slog.Logger
	Level  slog.Level
	// Step is the bucket width in percent. Values below 1 use DefaultProgressStep.
	Step int

	mu         sync.Mutex
	last       string
	lastKey    string
	lastBucket int
}

// NewProgressFilter returns a filter logging accepted lines at info level.
func NewProgressFilter(logger *slog.Logger) *ProgressFilter {
	return &ProgressFilter{Logger: logger, Level: slog.LevelInfo, Step: DefaultProgressStep}
}

// Accept reports whether line should be shown, updating the filter state.
func (f *ProgressFilter) Accept(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if line == f.last {
		return false
	}

	percent, ok := parsePercent(line)
	if !ok {
		f.last = line
		f.lastKey = ""
		return true
	}

	// Progress lines differ only in their counters; compare them by shape.
	key := digitsPattern.ReplaceAllString(line, "")
	bucket := percent / f.step()
	if percent >= 100 {
		bucket = -1
	}
	if key == f.lastKey && bucket == f.lastBucket {
		return false
	}

	f.last = line
	f.lastKey = key
	f.lastBucket = bucket
	return true
}

// Line logs line if Accept lets it through.
func (f *ProgressFilter) Line(line string) {
	if !f.Accept(line) {
		return
	}
	Ensure(f.Logger).Log(context.Background(), f.Level, strings.TrimSpace(line))
}

func (f *ProgressFilter) step() int {
	if f.Step < 1 {
		return DefaultProgressStep
	}
	return f.Step
}

func parsePercent(line string) (int, bool) {
	match := percentPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.Atoi(match[1])
	if err != nil || value > 100 {
		return 0, false
	}
	return value, true
}
