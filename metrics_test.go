package mpool

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordOp("mb_read", 1024, 1000000, true)  // 1KB read, 1ms latency, success
	m.RecordOp("mb_write", 2048, 2000000, true) // 2KB write, 2ms latency, success
	m.RecordOp("mb_read", 512, 500000, false)   // 512B read, 0.5ms latency, error

	snap = m.Snapshot()

	readStat := snap.PerOp["mb_read"]
	writeStat := snap.PerOp["mb_write"]

	if readStat.Ops != 2 {
		t.Errorf("Expected 2 mb_read ops, got %d", readStat.Ops)
	}
	if writeStat.Ops != 1 {
		t.Errorf("Expected 1 mb_write op, got %d", writeStat.Ops)
	}

	if readStat.Bytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", readStat.Bytes)
	}
	if writeStat.Bytes != 2048 {
		t.Errorf("Expected 2048 write bytes, got %d", writeStat.Bytes)
	}

	if readStat.Errors != 1 {
		t.Errorf("Expected 1 mb_read error, got %d", readStat.Errors)
	}
	if writeStat.Errors != 0 {
		t.Errorf("Expected 0 mb_write errors, got %d", writeStat.Errors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()

	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordOp("mb_read", 1024, 1000000, true)  // 1ms
	m.RecordOp("mb_write", 1024, 2000000, true) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000) // 1.5ms in nanoseconds
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 { // Allow 2ms tolerance
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordOp("mb_read", 1024, 1000000, true)
	m.RecordOp("mb_write", 2048, 2000000, true)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.MaxQueueDepth != 0 {
		t.Errorf("Expected 0 max queue depth after reset, got %d", snap.MaxQueueDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveOp("mb_read", 1024, 1000000, true)
	observer.ObserveOp("mb_write", 1024, 1000000, true)
	observer.ObserveQueueDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveOp("mb_read", 1024, 1000000, true)
	metricsObserver.ObserveOp("mb_write", 2048, 2000000, true)

	snap := m.Snapshot()
	if snap.PerOp["mb_read"].Ops != 1 {
		t.Errorf("Expected 1 mb_read op from observer, got %d", snap.PerOp["mb_read"].Ops)
	}
	if snap.PerOp["mb_write"].Ops != 1 {
		t.Errorf("Expected 1 mb_write op from observer, got %d", snap.PerOp["mb_write"].Ops)
	}
	if snap.PerOp["mb_read"].Bytes != 1024 {
		t.Errorf("Expected 1024 mb_read bytes from observer, got %d", snap.PerOp["mb_read"].Bytes)
	}
	if snap.PerOp["mb_write"].Bytes != 2048 {
		t.Errorf("Expected 2048 mb_write bytes from observer, got %d", snap.PerOp["mb_write"].Bytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordOp("mb_read", 1024, 1000000, true)
	m.RecordOp("mb_write", 2048, 2000000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	// 2 ops total over 1 second
	if snap.IOPS < 1.9 || snap.IOPS > 2.1 {
		t.Errorf("Expected IOPS ~2.0, got %.2f", snap.IOPS)
	}

	// (1024+2048) bytes over 1 second
	if snap.Bandwidth < 3000 || snap.Bandwidth > 3100 {
		t.Errorf("Expected Bandwidth ~3072, got %.2f", snap.Bandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 ops at 500us (50th percentile should be around 500us)
	// 49 ops at 5ms
	// 1 op at 50ms (99th percentile)
	for i := 0; i < 50; i++ {
		m.RecordOp("mb_read", 1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordOp("mb_write", 1024, 5_000_000, true) // 5ms
	}
	m.RecordOp("mb_write", 1024, 50_000_000, true) // 50ms (this is the P99)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	// P50 should be around 500us-1ms range (the 50th percentile)
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	// P99 should be in the 5ms-100ms range (99th percentile)
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
