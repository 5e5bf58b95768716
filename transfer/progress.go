package transfer

import (
	"sync"
	"time"
)

// Snapshot is the state of a transfer at one instant.
type Snapshot struct {
	Sent       int64
	Total      int64
	Elapsed    time.Duration
	Throughput float64 // bytes per second
	// ETA is only meaningful when ETAKnown; throughput zero means no estimate.
	ETA      time.Duration
	ETAKnown bool
	Percent  float64
	// Chunk and Chunks are 1-based position and count; zero for single-shot uploads.
	Chunk  int
	Chunks int
}

// Progress accumulates sent bytes against a start time.
type Progress struct {
	mu    sync.Mutex
	total int64
	sent  int64
	start time.Time
	now   func() time.Time
}

func NewProgress(total int64) *Progress {
	return newProgressAt(total, time.Now)
}

func newProgressAt(total int64, now func() time.Time) *Progress {
	return &Progress{total: total, start: now(), now: now}
}

// Add records n more bytes and returns the new snapshot.
func (p *Progress) Add(n int64) Snapshot {
	p.mu.Lock()
	p.sent += n
	p.mu.Unlock()
	return p.Snapshot()
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Sent:    p.sent,
		Total:   p.total,
		Elapsed: p.now().Sub(p.start),
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Throughput = float64(s.Sent) / secs
	}
	if s.Total > 0 {
		s.Percent = float64(s.Sent) * 100 / float64(s.Total)
	}
	if s.Throughput > 0 {
		remaining := max(s.Total-s.Sent, 0)
		s.ETA = time.Duration(float64(remaining) / s.Throughput * float64(time.Second))
		s.ETAKnown = true
	}
	return s
}
