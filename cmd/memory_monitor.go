package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type MemoryMetricEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	HeapAllocBytes float64   `json:"heap_alloc_bytes"`
	HeapInuseBytes float64   `json:"heap_inuse_bytes"`
	HeapSysBytes   float64   `json:"heap_sys_bytes"`
}

// MemoryMonitor samples the Go heap gauges of a gatherer in the background.
type MemoryMonitor struct {
	cfg      *Config
	gatherer prometheus.Gatherer
	metrics  []MemoryMetricEntry
	mutex    sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMemoryMonitor(cfg *Config, gatherer prometheus.Gatherer) *MemoryMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &MemoryMonitor{
		cfg:      cfg,
		gatherer: gatherer,
		metrics:  make([]MemoryMetricEntry, 0),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *MemoryMonitor) Start() {
	if !m.cfg.MemoryMonitoringEnabled {
		return
	}

	interval := m.cfg.MemoryMonitoringInterval
	if interval <= 0 {
		interval = time.Second
	}

	log.WithFields(log.Fields{
		"interval": interval,
	}).Info("Starting memory monitoring")

	m.wg.Add(1)
	go m.monitorLoop(interval)
}

func (m *MemoryMonitor) Stop() {
	if !m.cfg.MemoryMonitoringEnabled {
		return
	}

	m.cancel()
	m.wg.Wait()

	peak := m.Peak()
	log.WithFields(log.Fields{
		"entries":      len(m.GetMetrics()),
		"heap_peak_mb": peak.HeapAllocBytes / 1024 / 1024,
	}).Info("Stopped memory monitoring")
}

func (m *MemoryMonitor) monitorLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.recordMetric()

	for {
		select {
		case <-m.ctx.Done():
			m.recordMetric()
			return
		case <-ticker.C:
			m.recordMetric()
		}
	}
}

func (m *MemoryMonitor) recordMetric() {
	memstats, err := readMemoryMetrics(m.gatherer)
	if err != nil {
		log.WithError(err).Warn("Failed to read memory metrics")
		return
	}

	entry := MemoryMetricEntry{
		Timestamp:      time.Now(),
		HeapAllocBytes: memstats.HeapAllocBytes,
		HeapInuseBytes: memstats.HeapInuseBytes,
		HeapSysBytes:   memstats.HeapSysBytes,
	}

	m.mutex.Lock()
	m.metrics = append(m.metrics, entry)
	m.mutex.Unlock()

	log.WithFields(log.Fields{
		"heap_alloc_mb": entry.HeapAllocBytes / 1024 / 1024,
		"heap_inuse_mb": entry.HeapInuseBytes / 1024 / 1024,
		"heap_sys_mb":   entry.HeapSysBytes / 1024 / 1024,
	}).Debug("Recorded memory metric")
}

// Peak returns the sample with the largest heap allocation.
func (m *MemoryMonitor) Peak() MemoryMetricEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var peak MemoryMetricEntry
	for _, e := range m.metrics {
		if e.HeapAllocBytes > peak.HeapAllocBytes {
			peak = e
		}
	}
	return peak
}

func (m *MemoryMonitor) GetMetrics() []MemoryMetricEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make([]MemoryMetricEntry, len(m.metrics))
	copy(result, m.metrics)
	return result
}
