package cmd

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/muajs/mua-benchmarking/internal/bench"
)

type Config struct {
	Mode         string
	Dataset      string
	Steps        int
	LearningRate float64
	Seed         int64
	Prefetch     int
	OutputFormat string
	OutputFile   string
	Labels       string
	LabelMap     map[string]string
	CPUProfile   string

	MetricsAddr      string
	PrometheusConfig PrometheusConfig

	MemoryMonitoringEnabled  bool
	MemoryMonitoringInterval time.Duration

	// dataset generation
	Classes   int
	PerClass  int
	Fill      string
	MirrorURL string
	Split     string
	Limit     int
	CacheDir  string
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "graph", "eager":
		if err := c.validateRun(); err != nil {
			return err
		}
	case "dataset-synthetic":
		return c.validateSynthetic()
	case "dataset-mnist":
		return c.validateMNIST()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}

	c.parseLabels()
	return nil
}

func (c *Config) validateRun() error {
	if c.Dataset == "" {
		return errors.Errorf("a dataset directory must be provided")
	}

	if c.Steps <= 0 {
		return errors.Errorf("steps must be larger than 0 (got %d)", c.Steps)
	}

	if c.LearningRate < 0 {
		return errors.Errorf("learning rate must be larger than 0 (got %g)", c.LearningRate)
	}
	if c.LearningRate == 0 {
		c.LearningRate = defaultLearningRate(c.Mode)
	}

	if c.Prefetch < 0 {
		return errors.Errorf("prefetch must not be negative (got %d)", c.Prefetch)
	}

	switch c.OutputFormat {
	case "text", "":
		c.OutputFormat = "text"
	case "json":
	default:
		return errors.Errorf("unsupported output format %q, must be one of [text, json]",
			c.OutputFormat)
	}

	if c.PrometheusConfig.PushURL != "" {
		c.PrometheusConfig.Enabled = true
		if c.PrometheusConfig.JobName == "" {
			return errors.Errorf("a job name is required when pushing metrics")
		}
	}

	if c.MemoryMonitoringEnabled && c.MemoryMonitoringInterval <= 0 {
		return errors.Errorf("memory monitoring interval must be positive")
	}

	return nil
}

func defaultLearningRate(mode string) float64 {
	if mode == "eager" {
		return 0.001
	}
	return 0.01
}

func (c Config) validateSynthetic() error {
	if c.Dataset == "" {
		return errors.Errorf("an output directory must be provided")
	}
	if c.Classes <= 0 || c.PerClass <= 0 {
		return errors.Errorf("classes and images per class must be larger than 0")
	}
	switch c.Fill {
	case "zero", "random":
	default:
		return errors.Errorf("unsupported fill %q, must be one of [zero, random]", c.Fill)
	}
	return nil
}

func (c Config) validateMNIST() error {
	if c.Dataset == "" {
		return errors.Errorf("an output directory must be provided")
	}
	if c.MirrorURL == "" {
		return errors.Errorf("a mirror url must be provided")
	}
	switch c.Split {
	case "train", "test":
	default:
		return errors.Errorf("unsupported split %q, must be one of [train, test]", c.Split)
	}
	if c.Limit < 0 {
		return errors.Errorf("limit must not be negative")
	}
	return nil
}

func (c *Config) parseLabels() {
	result := make(map[string]string)
	if c.Labels == "" {
		c.LabelMap = result
		return
	}

	for _, pair := range strings.Split(c.Labels, ",") {
		kv := strings.SplitN(pair, "=", 2) // only split on the first "="
		if len(kv) == 2 && kv[0] != "" {
			result[kv[0]] = kv[1]
		}
	}

	c.LabelMap = result
}

// addRunFlags registers the flags shared by the model commands.
func addRunFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&globalConfig.Dataset,
		"dataset", "d", "./MNIST", "Dataset root, one subdirectory of images per class label")
	flags.IntVarP(&globalConfig.Steps,
		"steps", "s", bench.DefaultSteps, "Maximum number of training steps")
	flags.Float64Var(&globalConfig.LearningRate,
		"lr", 0, "SGD learning rate (0 uses the model default)")
	flags.Int64Var(&globalConfig.Seed,
		"seed", 0, "Seed for shuffling and weight initialisation, 0 seeds from the clock")
	flags.IntVar(&globalConfig.Prefetch,
		"prefetch", 0, "Number of background image decoders, 0 decodes inline")
	flags.StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
	flags.StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename for an output file. If none provided, output to stdout only")
	flags.StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	flags.StringVar(&globalConfig.CPUProfile,
		"cpuprofile", "", "Write a CPU profile of the run to this file")
	flags.StringVar(&globalConfig.MetricsAddr,
		"metrics-addr", "", "Serve Prometheus metrics on this address while running, e.g. :2112")
	flags.StringVar(&globalConfig.PrometheusConfig.PushURL,
		"pushgateway", "", "Push metrics to this Prometheus pushgateway when the run ends")
	flags.StringVar(&globalConfig.PrometheusConfig.JobName,
		"job", "mua_benchmark", "Job name used when pushing metrics")
	flags.BoolVar(&globalConfig.MemoryMonitoringEnabled,
		"memory-monitoring", false, "Sample Go heap statistics during the run")
	flags.DurationVar(&globalConfig.MemoryMonitoringInterval,
		"memory-interval", time.Second, "Interval between heap samples")
}
