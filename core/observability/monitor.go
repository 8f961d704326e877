// Package observability keeps per-route request statistics and flags routes
// that are slow or failing.
package observability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/coroserve/core/coro"
)

// DefaultAnalyzeInterval is how often Run re-evaluates bottlenecks.
const DefaultAnalyzeInterval = 10 * time.Second

// Upper bounds of the latency buckets. The last bucket is unbounded.
var bucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Thresholds used by bottleneck detection.
const (
	slowAverage   = 100 * time.Millisecond
	highErrorRate = 0.05
)

// PerformanceMonitor aggregates request statistics per route. It is safe
// for concurrent use.
type PerformanceMonitor struct {
	enabled atomic.Bool
	routes  sync.Map // string -> *RouteMetrics

	totalRequests atomic.Uint64
	totalDuration atomic.Uint64

	bottlenecks  []Bottleneck
	bottleneckMu sync.RWMutex
}

// RouteMetrics holds counters for one route key.
type RouteMetrics struct {
	Name          string
	Count         atomic.Uint64
	Errors        atomic.Uint64
	TotalDuration atomic.Uint64
	MinDuration   atomic.Uint64
	MaxDuration   atomic.Uint64

	latencyBuckets [len(bucketBounds) + 1]atomic.Uint64
}

// RouteStats is a point-in-time copy of RouteMetrics.
type RouteStats struct {
	Name    string
	Count   uint64
	Errors  uint64
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
	Buckets []uint64
}

// Snapshot is a point-in-time copy of the whole monitor.
type Snapshot struct {
	TotalRequests uint64
	TotalDuration time.Duration
	Routes        []RouteStats
}

// Bottleneck is a route whose statistics crossed a threshold.
type Bottleneck struct {
	Type       string
	Location   string
	Severity   int
	Impact     float64
	DetectedAt time.Time
	Details    string
}

// NewPerformanceMonitor creates an enabled monitor. Bottleneck analysis
// only runs while Run is active.
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{}
	pm.enabled.Store(true)
	return pm
}

// SetEnabled turns recording on or off.
func (pm *PerformanceMonitor) SetEnabled(on bool) {
	pm.enabled.Store(on)
}

// RecordRequest records one request against route.
func (pm *PerformanceMonitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}
	val, ok := pm.routes.Load(route)
	if !ok {
		val, _ = pm.routes.LoadOrStore(route, &RouteMetrics{Name: route})
	}
	m := val.(*RouteMetrics)

	m.Count.Add(1)
	if isError {
		m.Errors.Add(1)
	}
	ns := uint64(max(duration, 0))
	m.TotalDuration.Add(ns)
	m.observe(ns)

	pm.totalRequests.Add(1)
	pm.totalDuration.Add(ns)
}

func (m *RouteMetrics) observe(ns uint64) {
	for {
		cur := m.MinDuration.Load()
		if cur != 0 && ns >= cur || m.MinDuration.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := m.MaxDuration.Load()
		if ns <= cur || m.MaxDuration.CompareAndSwap(cur, ns) {
			break
		}
	}
	m.latencyBuckets[bucketFor(time.Duration(ns))].Add(1)
}

func bucketFor(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

func (m *RouteMetrics) stats() RouteStats {
	s := RouteStats{
		Name:    m.Name,
		Count:   m.Count.Load(),
		Errors:  m.Errors.Load(),
		Min:     time.Duration(m.MinDuration.Load()),
		Max:     time.Duration(m.MaxDuration.Load()),
		Buckets: make([]uint64, len(m.latencyBuckets)),
	}
	if s.Count > 0 {
		s.Average = time.Duration(m.TotalDuration.Load() / s.Count)
	}
	for i := range m.latencyBuckets {
		s.Buckets[i] = m.latencyBuckets[i].Load()
	}
	return s
}

// Route returns the statistics for one route.
func (pm *PerformanceMonitor) Route(route string) (RouteStats, bool) {
	val, ok := pm.routes.Load(route)
	if !ok {
		return RouteStats{}, false
	}
	return val.(*RouteMetrics).stats(), true
}

// Snapshot copies the current statistics, routes sorted by name.
func (pm *PerformanceMonitor) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests: pm.totalRequests.Load(),
		TotalDuration: time.Duration(pm.totalDuration.Load()),
	}
	pm.routes.Range(func(_, value any) bool {
		s.Routes = append(s.Routes, value.(*RouteMetrics).stats())
		return true
	})
	slices.SortFunc(s.Routes, func(a, b RouteStats) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return s
}

// Run re-evaluates bottlenecks every interval until ctx is done.
func (pm *PerformanceMonitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultAnalyzeInterval
	}
	ticker := coro.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := ticker.C.Receive(ctx, coro.Never); err != nil {
			return err
		}
		if !pm.enabled.Load() {
			continue
		}
		found := pm.detectBottlenecks()
		pm.bottleneckMu.Lock()
		pm.bottlenecks = found
		pm.bottleneckMu.Unlock()
	}
}

func (pm *PerformanceMonitor) detectBottlenecks() []Bottleneck {
	var found []Bottleneck
	now := time.Now()

	pm.routes.Range(func(_, value any) bool {
		s := value.(*RouteMetrics).stats()
		if s.Count == 0 {
			return true
		}
		if s.Average > slowAverage {
			found = append(found, Bottleneck{
				Type:       "latency",
				Location:   s.Name,
				Severity:   8,
				Impact:     float64(s.Average) / float64(slowAverage) * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("high latency (%v avg)", s.Average),
			})
		}
		if rate := float64(s.Errors) / float64(s.Count); rate > highErrorRate {
			found = append(found, Bottleneck{
				Type:       "errors",
				Location:   s.Name,
				Severity:   10,
				Impact:     rate * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
		return true
	})
	return found
}

// Bottlenecks returns the result of the last analysis.
func (pm *PerformanceMonitor) Bottlenecks() []Bottleneck {
	pm.bottleneckMu.RLock()
	defer pm.bottleneckMu.RUnlock()
	return slices.Clone(pm.bottlenecks)
}
