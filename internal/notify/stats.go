package notify

import (
	"fmt"
	"sync"
	"time"
)

// RunStats tracks the outcome of a single pipeline run. One is logged per
// run and kept in the in-memory recorder for the operator metrics surface.
type RunStats struct {
	EventID    string
	StartedAt  time.Time
	Duration   time.Duration
	Skipped    bool
	SkipReason string
	Candidates int
	Excluded   map[string]int
	Eligible   int
	Sent       int
	Failed     int
	Duplicates int
	Error      string
}

func newRunStats(eventID string) RunStats {
	return RunStats{
		EventID:   eventID,
		StartedAt: time.Now().UTC(),
		Excluded:  make(map[string]int),
	}
}

// exclude tags one candidate exclusion with its reason.
func (s *RunStats) exclude(reason string) {
	s.Excluded[reason]++
}

// ExcludedTotal returns the total number of filtered-out candidates.
func (s *RunStats) ExcludedTotal() int {
	total := 0
	for _, n := range s.Excluded {
		total += n
	}
	return total
}

// Summary returns a human-readable summary.
func (s *RunStats) Summary() string {
	if s.Skipped {
		return fmt.Sprintf("event=%s skipped reason=%s", s.EventID, s.SkipReason)
	}
	return fmt.Sprintf(
		"event=%s candidates=%d excluded=%d eligible=%d sent=%d failed=%d duplicates=%d dur=%s",
		s.EventID, s.Candidates, s.ExcludedTotal(), s.Eligible,
		s.Sent, s.Failed, s.Duplicates, s.Duration.Round(time.Millisecond))
}

// --------------------------------------------------------------------------
// Recorder
// --------------------------------------------------------------------------

const defaultRecorderCap = 100

// StatsRecorder keeps a bounded in-memory history of recent runs for the
// operator metrics endpoint. Oldest runs are evicted first.
type StatsRecorder struct {
	mu   sync.Mutex
	runs []RunStats
	cap  int
}

// NewStatsRecorder creates a recorder holding up to capacity runs.
// Zero or negative capacity falls back to the default.
func NewStatsRecorder(capacity int) *StatsRecorder {
	if capacity <= 0 {
		capacity = defaultRecorderCap
	}
	return &StatsRecorder{cap: capacity}
}

// Record appends a finished run, evicting the oldest if full.
func (r *StatsRecorder) Record(s RunStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
	if len(r.runs) > r.cap {
		r.runs = r.runs[len(r.runs)-r.cap:]
	}
}

// Recent returns a copy of the recorded runs, newest last.
func (r *StatsRecorder) Recent() []RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunStats, len(r.runs))
	copy(out, r.runs)
	return out
}
