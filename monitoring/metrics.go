package monitoring

import (
	"sort"
	"sync"
	"time"
)

// KindStats aggregates the outcomes of one analysis kind.
type KindStats struct {
	Kind         string           `json:"kind"`
	Total        int64            `json:"total"`
	ByStatus     map[string]int64 `json:"by_status"`
	AvgLatencyMS float64          `json:"avg_latency_ms"`
	MaxLatencyMS float64          `json:"max_latency_ms"`
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	StartTime time.Time   `json:"start_time"`
	Uptime    string      `json:"uptime"`
	Kinds     []KindStats `json:"kinds"`
}

type kindCounter struct {
	total     int64
	byStatus  map[string]int64
	latencyMS float64
	maxMS     float64
}

// Stats counts analyses per kind and status since start.
type Stats struct {
	mu        sync.Mutex
	kinds     map[string]*kindCounter
	startTime time.Time
}

func NewStats() *Stats {
	return &Stats{
		kinds:     make(map[string]*kindCounter),
		startTime: time.Now(),
	}
}

func (s *Stats) Record(kind, status string, latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.kinds[kind]
	if !ok {
		c = &kindCounter{byStatus: make(map[string]int64)}
		s.kinds[kind] = c
	}
	c.total++
	c.byStatus[status]++
	c.latencyMS += ms
	if ms > c.maxMS {
		c.maxMS = ms
	}
}

// Snapshot returns the counters sorted by kind.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		StartTime: s.startTime,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Kinds:     make([]KindStats, 0, len(s.kinds)),
	}
	for kind, c := range s.kinds {
		ks := KindStats{
			Kind:         kind,
			Total:        c.total,
			ByStatus:     make(map[string]int64, len(c.byStatus)),
			MaxLatencyMS: c.maxMS,
		}
		for status, n := range c.byStatus {
			ks.ByStatus[status] = n
		}
		if c.total > 0 {
			ks.AvgLatencyMS = c.latencyMS / float64(c.total)
		}
		out.Kinds = append(out.Kinds, ks)
	}
	sort.Slice(out.Kinds, func(i, j int) bool { return out.Kinds[i].Kind < out.Kinds[j].Kind })
	return out
}
