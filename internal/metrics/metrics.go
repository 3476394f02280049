package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimerSnapshot captures timing information for one named timer
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// Snapshot is a point-in-time view of all collected metrics
type Snapshot struct {
	Counters map[string]int64         `json:"counters"`
	Timers   map[string]TimerSnapshot `json:"timers"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	maxTimeMs   int64
}

// Metrics is an in-process metrics collector
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*int64
	timers   map[string]*timer
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]*int64),
		timers:   make(map[string]*timer),
	}
}

// IncrCounter increments a named counter
func (m *Metrics) IncrCounter(name string) {
	m.mu.RLock()
	counter, ok := m.counters[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		counter, ok = m.counters[name]
		if !ok {
			counter = new(int64)
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, 1)
}

// RecordTimer records one duration sample against a named timer
func (m *Metrics) RecordTimer(name string, elapsed time.Duration) {
	ms := elapsed.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	t.count++
	t.totalTimeMs += ms
	if ms > t.maxTimeMs {
		t.maxTimeMs = ms
	}
}

// Snapshot returns a copy of all metric values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(m.counters)),
		Timers:   make(map[string]TimerSnapshot, len(m.timers)),
	}
	for name, counter := range m.counters {
		snap.Counters[name] = atomic.LoadInt64(counter)
	}
	for name, t := range m.timers {
		entry := TimerSnapshot{
			Count:       t.count,
			TotalTimeMs: t.totalTimeMs,
			MaxTimeMs:   t.maxTimeMs,
		}
		if t.count > 0 {
			entry.AverageTimeMs = float64(t.totalTimeMs) / float64(t.count)
		}
		snap.Timers[name] = entry
	}
	return snap
}
