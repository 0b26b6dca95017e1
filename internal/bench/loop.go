package bench

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/muajs/mua-benchmarking/internal/dataset"
)

// DefaultSteps caps the number of items one run processes.
const DefaultSteps = 2000

// Options configures Run.
type Options struct {
	Items []dataset.Item
	Steps int
	Model Model
	Load  Loader
	// Prefetch > 0 decodes images on that many workers ahead of the loop.
	// Decode time is then excluded from the forward samples.
	Prefetch int
	// OnStep, when set, observes every completed step.
	OnStep func(step int, s Sample)
}

// Sample holds the measurements of one step.
type Sample struct {
	Decode   time.Duration
	Forward  time.Duration
	Backward time.Duration
	Loss     float64
}

// Timings accumulates samples in step order.
type Timings struct {
	Decode   []time.Duration
	Forward  []time.Duration
	Backward []time.Duration
	LastLoss float64
}

func newTimings(n int) *Timings {
	return &Timings{
		Decode:   make([]time.Duration, 0, n),
		Forward:  make([]time.Duration, 0, n),
		Backward: make([]time.Duration, 0, n),
	}
}

// Len is the number of processed steps.
func (t *Timings) Len() int {
	return len(t.Forward)
}

func (t *Timings) record(s Sample) {
	t.Decode = append(t.Decode, s.Decode)
	t.Forward = append(t.Forward, s.Forward)
	t.Backward = append(t.Backward, s.Backward)
	t.LastLoss = s.Loss
}

// Run trains the model on the first min(Steps, len(Items)) items, one
// update per item, strictly in order. The returned timings hold every step
// completed before an error.
func Run(ctx context.Context, opts Options) (*Timings, error) {
	if opts.Model == nil {
		return nil, errors.New("bench: model is nil")
	}
	if opts.Load == nil {
		return nil, errors.New("bench: loader is nil")
	}
	if opts.Steps <= 0 {
		return nil, errors.Errorf("bench: steps must be > 0 (got %d)", opts.Steps)
	}

	items := dataset.Prefix(opts.Items, opts.Steps)
	timings := newTimings(len(items))

	var pf *prefetcher
	if opts.Prefetch > 0 && len(items) > 0 {
		pf = startPrefetch(ctx, items, opts.Load, opts.Prefetch)
		defer pf.stop()
	}

	for step, item := range items {
		if err := ctx.Err(); err != nil {
			return timings, err
		}

		s, err := runStep(ctx, opts, pf, step, item)
		if err != nil {
			return timings, errors.Wrapf(err, "step %d (%s)", step, item.Path)
		}
		timings.record(s)

		log.WithFields(log.Fields{
			"step":     step,
			"forward":  s.Forward,
			"backward": s.Backward,
			"loss":     s.Loss,
		}).Debug("step done")

		if opts.OnStep != nil {
			opts.OnStep(step, s)
		}
	}

	return timings, nil
}

func runStep(ctx context.Context, opts Options, pf *prefetcher, step int, item dataset.Item) (Sample, error) {
	var (
		s     Sample
		input []float32
	)

	start := time.Now()
	if pf != nil {
		d, err := pf.next(ctx, step)
		if err != nil {
			return s, err
		}
		input, s.Decode = d.input, d.took
		start = time.Now()
	} else {
		var err error
		input, err = opts.Load(item)
		if err != nil {
			return s, err
		}
		s.Decode = time.Since(start)
	}

	class, err := item.Class()
	if err != nil {
		return s, err
	}
	if err := opts.Model.Forward(input, class); err != nil {
		return s, errors.Wrap(err, "forward")
	}
	s.Forward = time.Since(start)

	start = time.Now()
	loss, err := opts.Model.Backward()
	if err != nil {
		return s, errors.Wrap(err, "backward")
	}
	s.Backward = time.Since(start)
	s.Loss = loss

	return s, nil
}
