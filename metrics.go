package mpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// opCounters tracks per-operation-name counts, bytes, and errors. The set of
// operation names is small and fixed (mb_alloc, mb_write, ml_rw, ...), so a
// sync.Map keyed by name with lazily-created atomic counters avoids a global
// lock on the hot path.
type opCounters struct {
	ops    atomic.Uint64
	bytes  atomic.Uint64
	errors atomic.Uint64
}

// Metrics tracks performance and operational statistics for the operations
// a pool handle reports through its Observer (mlog flush/read/erase and
// mblock write/read/commit/abort/delete; mcache operations are not
// reported): operation counts, byte volumes, error rates, a latency
// histogram, and queue depth as far as RecordQueueDepth is called.
type Metrics struct {
	perOp sync.Map // string -> *opCounters

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyBuckets[i] holds the count of operations with latency <=
	// LatencyBuckets[i] (cumulative, same convention as the package var).
	latencyHist [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) countersFor(op string) *opCounters {
	if v, ok := m.perOp.Load(op); ok {
		return v.(*opCounters)
	}
	v, _ := m.perOp.LoadOrStore(op, &opCounters{})
	return v.(*opCounters)
}

// RecordOp records one occurrence of op: its byte volume (0 for control-only
// ops like mb_commit), latency, and success/failure.
func (m *Metrics) RecordOp(op string, bytes uint64, latencyNs uint64, success bool) {
	c := m.countersFor(op)
	c.ops.Add(1)
	if success {
		c.bytes.Add(bytes)
	} else {
		c.errors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records current queue depth for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.latencyHist[i].Add(1)
		}
	}
}

// Stop marks the pool handle as closed for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// OpStat is a point-in-time snapshot of one operation's counters.
type OpStat struct {
	Ops    uint64
	Bytes  uint64
	Errors uint64
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	PerOp map[string]OpStat

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	IOPS      float64
	Bandwidth float64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64 // percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PerOp:         make(map[string]OpStat),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	var totalErrors uint64
	m.perOp.Range(func(key, value any) bool {
		c := value.(*opCounters)
		stat := OpStat{Ops: c.ops.Load(), Bytes: c.bytes.Load(), Errors: c.errors.Load()}
		snap.PerOp[key.(string)] = stat
		snap.TotalOps += stat.Ops
		snap.TotalBytes += stat.Bytes
		totalErrors += stat.Errors
		return true
	})

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.IOPS = float64(snap.TotalOps) / uptimeSeconds
		snap.Bandwidth = float64(snap.TotalBytes) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.latencyHist[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.latencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.latencyHist[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.perOp.Range(func(key, _ any) bool {
		m.perOp.Delete(key)
		return true
	})
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.latencyHist[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveOp(string, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint32)               {}

// MetricsObserver implements interfaces.Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveOp(op string, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordOp(op, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
