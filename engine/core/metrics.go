package core

import (
	"sync"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/anima-shaders/engine/containers"
)

const AVG_COUNT uint8 = 30

// MetricsSnapshot is a copy of the counters at one point in time.
type MetricsSnapshot struct {
	Loads       uint64
	Failures    uint64
	CacheHits   uint64
	CacheMisses uint64
	// Rolling average over the last AVG_COUNT compilations.
	CompileMSAvg float64
}

// Metrics collects pipeline counters. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	msTimes *containers.RingQueue[float64]

	loads       uint64
	failures    uint64
	cacheHits   uint64
	cacheMisses uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		msTimes: containers.NewRingQueue[float64](int(AVG_COUNT)),
	}
}

// RecordCompile stores the duration of one stage compilation.
func (m *Metrics) RecordCompile(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msTimes.Push(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *Metrics) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

// RecordLoad counts a finished load, failed or not.
func (m *Metrics) RecordLoad(failed bool) {
	m.mu.Lock()
	m.loads++
	if failed {
		m.failures++
	}
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Loads:        m.loads,
		Failures:     m.failures,
		CacheHits:    m.cacheHits,
		CacheMisses:  m.cacheMisses,
		CompileMSAvg: average(m.msTimes.Items()),
	}
}

func average[T constraints.Integer | constraints.Float](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}
