package cmd

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

type Memstats struct {
	HeapAllocBytes float64 `json:"heap_alloc_bytes"`
	HeapInuseBytes float64 `json:"heap_inuse_bytes"`
	HeapSysBytes   float64 `json:"heap_sys_bytes"`
}

func readMemoryMetrics(gatherer prometheus.Gatherer) (*Memstats, error) {
	families, err := gatherer.Gather()
	if err != nil {
		return nil, errors.Wrap(err, "gather metrics")
	}

	metrics := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		metrics[f.GetName()] = f
	}

	var memstats Memstats

	if metric, ok := metrics["go_memstats_heap_alloc_bytes"]; ok && len(metric.Metric) > 0 {
		memstats.HeapAllocBytes = metric.Metric[0].GetGauge().GetValue()
	}

	if metric, ok := metrics["go_memstats_heap_inuse_bytes"]; ok && len(metric.Metric) > 0 {
		memstats.HeapInuseBytes = metric.Metric[0].GetGauge().GetValue()
	}

	if metric, ok := metrics["go_memstats_heap_sys_bytes"]; ok && len(metric.Metric) > 0 {
		memstats.HeapSysBytes = metric.Metric[0].GetGauge().GetValue()
	}

	return &memstats, nil
}

// dumpMetrics writes the benchmark families of gatherer in the text
// exposition format. Go runtime families are skipped.
func dumpMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "go_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			return err
		}
	}
	return nil
}

// logMetrics emits the final metrics at debug level.
func logMetrics(gatherer prometheus.Gatherer) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	w := log.StandardLogger().WriterLevel(log.DebugLevel)
	defer w.Close()
	if err := dumpMetrics(w, gatherer); err != nil {
		log.WithError(err).Warn("Failed to dump metrics")
	}
}
