package bench

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	durations := []time.Duration{
		5 * time.Millisecond,
		3 * time.Millisecond,
		0,
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		6 * time.Millisecond,
	}

	stats := analyze(durations)
	require.Equal(t, 3.0, stats.Mean)
	require.Equal(t, 0.0, stats.Min)
	require.Equal(t, 6.0, stats.Max)
	require.Equal(t, 3.0, stats.P50)
	require.Equal(t, 6.0, stats.P90)
	require.Equal(t, 6.0, stats.P99)
	// input order is preserved
	require.Equal(t, 5*time.Millisecond, durations[0])
}

func TestPercentilePos(t *testing.T) {
	require.Equal(t, 0, percentilePos(1, 50))
	require.Equal(t, 49, percentilePos(100, 50))
	require.Equal(t, 98, percentilePos(100, 99))
	require.Equal(t, 0, percentilePos(3, 0))
}

func TestSummarizeEmpty(t *testing.T) {
	for _, timings := range []*Timings{nil, newTimings(0)} {
		s := Summarize(timings)
		require.True(t, s.Empty())
		require.True(t, math.IsNaN(s.Forward.Mean))
		require.True(t, math.IsNaN(s.Backward.Mean))

		var text bytes.Buffer
		_, err := s.WriteTextTo(&text)
		require.NoError(t, err)
		require.Equal(t, "forward: NaN\nbackward: NaN\n", text.String())

		raw, err := json.Marshal(s)
		require.NoError(t, err)
		require.JSONEq(t, `{"processed":0,"forward_ms":null,"backward_ms":null,"decode_ms":null,"last_loss":null}`, string(raw))
	}
}

func TestSummaryText(t *testing.T) {
	timings := newTimings(2)
	timings.record(Sample{Forward: time.Millisecond, Backward: 3 * time.Millisecond, Loss: 0.5})
	timings.record(Sample{Forward: 2 * time.Millisecond, Backward: 5 * time.Millisecond, Loss: 0.25})

	s := Summarize(timings)
	var text bytes.Buffer
	_, err := s.WriteTextTo(&text)
	require.NoError(t, err)
	require.Equal(t, "forward: 1.5000\nbackward: 4.0000\n", text.String())

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, 2.0, decoded["processed"])
	require.Equal(t, 0.25, decoded["last_loss"])
	require.Equal(t, 4.0, decoded["backward_ms"].(map[string]interface{})["mean"])
}

func TestMean(t *testing.T) {
	require.Equal(t, 2.0, mean([]int{1, 2, 3}))
	require.Equal(t, 0.5, mean([]float32{0.25, 0.75}))
	require.True(t, math.IsNaN(mean([]float64{})))
}
