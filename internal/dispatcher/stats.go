package dispatcher

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const latencyWindow = 100

// Stats tracks dispatcher calls for the health endpoint.
type Stats struct {
	TotalRequests    atomic.Int64
	Sent             atomic.Int64
	AlreadySent      atomic.Int64
	Locked           atomic.Int64
	Failed           atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu        sync.RWMutex
	latencies []int64
}

func newStats() *Stats {
	return &Stats{latencies: make([]int64, 0, latencyWindow)}
}

func (s *Stats) record(outcome Outcome, latency time.Duration) {
	s.TotalRequests.Add(1)
	s.ConsecutiveFails.Store(0)
	s.LastSuccessTime.Store(time.Now().Unix())

	switch outcome {
	case OutcomeSent:
		s.Sent.Add(1)
	case OutcomeAlreadySent:
		s.AlreadySent.Add(1)
	case OutcomeLocked:
		s.Locked.Add(1)
	}

	s.mu.Lock()
	if len(s.latencies) >= latencyWindow {
		s.latencies = s.latencies[1:]
	}
	s.latencies = append(s.latencies, latency.Milliseconds())
	s.mu.Unlock()
}

func (s *Stats) recordFailure() {
	s.TotalRequests.Add(1)
	s.Failed.Add(1)
	s.ConsecutiveFails.Add(1)
	s.LastErrorTime.Store(time.Now().Unix())
}

func (s *Stats) P95LatencyMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot is the JSON view of Stats.
type Snapshot struct {
	State            string `json:"state"`
	TotalRequests    int64  `json:"total_requests"`
	Sent             int64  `json:"sent"`
	AlreadySent      int64  `json:"already_sent"`
	Locked           int64  `json:"locked"`
	Failed           int64  `json:"failed"`
	ConsecutiveFails int32  `json:"consecutive_fails"`
	P95LatencyMs     int64  `json:"p95_latency_ms"`
}

func (s *Stats) snapshot(state string) Snapshot {
	return Snapshot{
		State:            state,
		TotalRequests:    s.TotalRequests.Load(),
		Sent:             s.Sent.Load(),
		AlreadySent:      s.AlreadySent.Load(),
		Locked:           s.Locked.Load(),
		Failed:           s.Failed.Load(),
		ConsecutiveFails: s.ConsecutiveFails.Load(),
		P95LatencyMs:     s.P95LatencyMs(),
	}
}
