package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRunDefaults(t *testing.T) {
	for mode, lr := range map[string]float64{"graph": 0.01, "eager": 0.001} {
		cfg := Config{Mode: mode, Dataset: "./MNIST", Steps: 2000}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, lr, cfg.LearningRate)
		assert.Equal(t, "text", cfg.OutputFormat)
		assert.Empty(t, cfg.LabelMap)
	}

	cfg := Config{Mode: "graph", Dataset: "./MNIST", Steps: 1, LearningRate: 0.5}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.LearningRate)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown mode", Config{Mode: "tf", Dataset: "d", Steps: 1}},
		{"zero steps", Config{Mode: "graph", Dataset: "d", Steps: 0}},
		{"negative lr", Config{Mode: "eager", Dataset: "d", Steps: 1, LearningRate: -1}},
		{"negative prefetch", Config{Mode: "eager", Dataset: "d", Steps: 1, Prefetch: -1}},
		{"bad format", Config{Mode: "eager", Dataset: "d", Steps: 1, OutputFormat: "csv"}},
		{"push without job", Config{Mode: "eager", Dataset: "d", Steps: 1,
			PrometheusConfig: PrometheusConfig{PushURL: "http://localhost:9091"}}},
		{"synthetic without classes", Config{Mode: "dataset-synthetic", Dataset: "d", PerClass: 1, Fill: "zero"}},
		{"synthetic bad fill", Config{Mode: "dataset-synthetic", Dataset: "d", Classes: 1, PerClass: 1, Fill: "ones"}},
		{"mnist bad split", Config{Mode: "dataset-mnist", Dataset: "d", MirrorURL: "http://x", Split: "val"}},
		{"mnist without mirror", Config{Mode: "dataset-mnist", Dataset: "d", Split: "train"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := test.cfg
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseLabels(t *testing.T) {
	cfg := Config{Labels: "a=1,b=x=y,broken,=empty,c="}
	cfg.parseLabels()
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, cfg.LabelMap)
}
