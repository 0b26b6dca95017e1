package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"golang.org/x/exp/constraints"
)

var targetPercentiles = []int{50, 90, 99}

// Stats describes one series of durations in milliseconds.
type Stats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
}

// Summary is the outcome of one run.
type Summary struct {
	Processed int
	Forward   Stats
	Backward  Stats
	Decode    Stats
	LastLoss  float64
}

// Summarize reduces the timings to per-series statistics. With zero
// processed steps every mean is NaN.
func Summarize(t *Timings) Summary {
	if t == nil || t.Len() == 0 {
		nan := math.NaN()
		empty := Stats{Mean: nan, Min: nan, Max: nan, P50: nan, P90: nan, P99: nan}
		return Summary{Forward: empty, Backward: empty, Decode: empty, LastLoss: nan}
	}
	return Summary{
		Processed: t.Len(),
		Forward:   analyze(t.Forward),
		Backward:  analyze(t.Backward),
		Decode:    analyze(t.Decode),
		LastLoss:  t.LastLoss,
	}
}

// Empty reports whether no step was processed.
func (s Summary) Empty() bool {
	return s.Processed == 0
}

func analyze(times []time.Duration) Stats {
	sorted := make([]float64, len(times))
	for i, d := range times {
		sorted[i] = ms(d)
	}
	sort.Float64s(sorted)

	pct := make([]float64, len(targetPercentiles))
	for i, p := range targetPercentiles {
		pct[i] = sorted[percentilePos(len(sorted), p)]
	}

	return Stats{
		Mean: mean(sorted),
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		P50:  pct[0],
		P90:  pct[1],
		P99:  pct[2],
	}
}

// percentilePos is the nearest-rank index of percentile p in n sorted values.
func percentilePos(n, p int) int {
	pos := int(math.Ceil(float64(n*p)/100)) - 1
	if pos < 0 {
		return 0
	}
	if pos >= n {
		return n - 1
	}
	return pos
}

func mean[T constraints.Integer | constraints.Float](xs []T) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// WriteTextTo prints the mean forward and backward time in milliseconds,
// one line each.
func (s Summary) WriteTextTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "forward: %s\nbackward: %s\n",
		formatMS(s.Forward.Mean), formatMS(s.Backward.Mean))
	return int64(n), err
}

func formatMS(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f", v)
}

type summaryJSON struct {
	Processed  int      `json:"processed"`
	ForwardMS  *Stats   `json:"forward_ms"`
	BackwardMS *Stats   `json:"backward_ms"`
	DecodeMS   *Stats   `json:"decode_ms"`
	LastLoss   *float64 `json:"last_loss"`
}

// MarshalJSON encodes an empty summary with null statistics instead of NaN.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := summaryJSON{Processed: s.Processed}
	if !s.Empty() {
		out.ForwardMS = &s.Forward
		out.BackwardMS = &s.Backward
		out.DecodeMS = &s.Decode
		if !math.IsNaN(s.LastLoss) && !math.IsInf(s.LastLoss, 0) {
			loss := s.LastLoss
			out.LastLoss = &loss
		}
	}
	return json.Marshal(out)
}
