package cmd

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	"github.com/muajs/mua-benchmarking/internal/bench"
	"github.com/muajs/mua-benchmarking/internal/dataset"
)

const (
	numClasses = 10
	imageSide  = 28

	recomputeCaveat = "backward time includes a second evaluation of the forward ops on the way to the loss"
)

// variant is one of the benchmarked model implementations.
type variant struct {
	name     string
	newModel func(rng *rand.Rand, lr float64) (bench.Model, func() error, error)
	// caveat qualifies what the timings measure for this variant.
	caveat string
}

func loadImage(it dataset.Item) ([]float32, error) {
	return dataset.DecodeImage(it.Path, imageSide, imageSide)
}

// runBenchmark trains v on the dataset of cfg and writes the report to out.
func runBenchmark(ctx context.Context, cfg Config, v variant, out io.Writer) error {
	items, err := dataset.Load(cfg.Dataset)
	if err != nil {
		return errors.Wrapf(err, "load dataset %s", cfg.Dataset)
	}
	if err := dataset.Validate(items, numClasses); err != nil {
		return err
	}

	rng := dataset.NewRand(cfg.Seed)
	dataset.Shuffle(items, rng)

	log.WithFields(log.Fields{
		"variant": v.name,
		"dataset": cfg.Dataset,
		"items":   len(items),
		"steps":   cfg.Steps,
	}).Info("Dataset loaded")

	model, closeModel, err := v.newModel(rng, cfg.LearningRate)
	if err != nil {
		return errors.Wrapf(err, "build %s model", v.name)
	}
	defer func() {
		if err := closeModel(); err != nil {
			log.WithError(err).WithField("variant", v.name).Warn("Failed to close model")
		}
	}()

	registry := newRegistry()
	metrics := NewStepMetrics(registry, metricLabels(cfg, v.name))
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, registry)
		defer stop()
	}

	monitor := NewMemoryMonitor(&cfg, registry)
	monitor.Start()

	before := time.Now()
	timings, err := bench.Run(ctx, bench.Options{
		Items:    items,
		Steps:    cfg.Steps,
		Model:    model,
		Load:     loadImage,
		Prefetch: cfg.Prefetch,
		OnStep:   metrics.Observe,
	})
	monitor.Stop()
	if err != nil {
		return err
	}

	summary := bench.Summarize(timings)
	if summary.Empty() {
		log.WithField("dataset", cfg.Dataset).Warn("No items processed, timings are undefined")
	}
	log.WithFields(log.Fields{
		"processed": summary.Processed,
		"took":      time.Since(before),
		"last_loss": summary.LastLoss,
	}).Info("Run finished")

	report := newReport(cfg, v.name, len(items), summary)
	if v.caveat != "" {
		report.Caveat = v.caveat
		log.WithField("variant", v.name).Info(v.caveat)
	}
	if cfg.MemoryMonitoringEnabled {
		peak := monitor.Peak().HeapAllocBytes
		metrics.HeapPeak.Set(peak)
		report.HeapPeakBytes = &peak
	}

	logMetrics(registry)
	if err := PushMetricsToPrometheus(&cfg, registry, report.RunID); err != nil {
		log.WithError(err).Warn("Metrics were not pushed")
	}

	if cfg.OutputFormat == "json" {
		_, err = report.WriteJSONTo(out)
	} else {
		_, err = report.WriteTextTo(out)
	}
	return errors.Wrap(err, "write report")
}

// runCommand wires the process level concerns around runBenchmark: output
// file, CPU profile and interrupt handling.
func runCommand(cfg Config, v variant, stdout io.Writer) error {
	stopProfile, err := startCPUProfile(cfg.CPUProfile)
	if err != nil {
		return err
	}
	defer stopProfile()

	w := stdout
	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer f.Close()
		w = f
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runBenchmark(ctx, cfg, v, w)
}

// startCPUProfile profiles until the returned function runs, or until the
// process exits through atexit.
func startCPUProfile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create cpu profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "start cpu profile")
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			pprof.StopCPUProfile()
			f.Close()
			infof("cpu profile written to %s", path)
		})
	}
	atexit.Register(stop)
	return stop, nil
}

type HostInfo struct {
	CPU           string   `json:"cpu"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	Features      []string `json:"features"`
	GOOS          string   `json:"goos"`
	GOARCH        string   `json:"goarch"`
	GOMAXPROCS    int      `json:"gomaxprocs"`
}

func hostInfo() HostInfo {
	var features []string
	for _, f := range []struct {
		name string
		id   cpuid.FeatureID
	}{
		{"sse4.2", cpuid.SSE42},
		{"avx", cpuid.AVX},
		{"avx2", cpuid.AVX2},
		{"fma3", cpuid.FMA3},
		{"avx512f", cpuid.AVX512F},
		{"asimd", cpuid.ASIMD},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}

	return HostInfo{
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      features,
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
	}
}

// Report is the outcome of one benchmark run.
type Report struct {
	RunID         string            `json:"run_id"`
	Timestamp     string            `json:"timestamp"`
	Variant       string            `json:"variant"`
	Dataset       string            `json:"dataset"`
	Items         int               `json:"items"`
	Steps         int               `json:"steps"`
	LearningRate  float64           `json:"learning_rate"`
	Seed          int64             `json:"seed"`
	Prefetch      int               `json:"prefetch"`
	Summary       bench.Summary     `json:"summary"`
	Labels        map[string]string `json:"labels,omitempty"`
	Host          HostInfo          `json:"host"`
	HeapPeakBytes *float64          `json:"heap_peak_bytes,omitempty"`
	Caveat        string            `json:"caveat,omitempty"`
}

func newReport(cfg Config, variant string, items int, summary bench.Summary) Report {
	return Report{
		RunID:        uuid.New().String(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Variant:      variant,
		Dataset:      cfg.Dataset,
		Items:        items,
		Steps:        cfg.Steps,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
		Prefetch:     cfg.Prefetch,
		Summary:      summary,
		Labels:       cfg.LabelMap,
		Host:         hostInfo(),
	}
}

// WriteTextTo prints the two line summary.
func (r Report) WriteTextTo(w io.Writer) (int64, error) {
	return r.Summary.WriteTextTo(w)
}

func (r Report) WriteJSONTo(w io.Writer) (int, error) {
	bytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, err
	}

	return w.Write(append(bytes, '\n'))
}
