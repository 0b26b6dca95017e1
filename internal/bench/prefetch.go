package bench

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/muajs/mua-benchmarking/internal/dataset"
)

type decoded struct {
	input []float32
	took  time.Duration
	err   error
}

// prefetcher decodes items on a bounded worker group. Every item has its
// own one-shot slot so the loop consumes results in item order.
type prefetcher struct {
	slots  []chan decoded
	ahead  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func startPrefetch(ctx context.Context, items []dataset.Item, load Loader, workers int) *prefetcher {
	ctx, cancel := context.WithCancel(ctx)
	p := &prefetcher{
		slots:  make([]chan decoded, len(items)),
		ahead:  make(chan struct{}, 2*workers),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = make(chan decoded, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	go func() {
		defer close(p.done)
		defer g.Wait()

		for i, item := range items {
			select {
			case p.ahead <- struct{}{}:
			case <-gctx.Done():
				return
			}

			i, item := i, item
			g.Go(func() error {
				start := time.Now()
				input, err := load(item)
				p.slots[i] <- decoded{input: input, took: time.Since(start), err: err}
				return err
			})
		}
	}()

	return p
}

// next blocks until item i is decoded. Items are launched in order, so a
// failed load is always reached before any item that was never launched.
func (p *prefetcher) next(ctx context.Context, i int) (decoded, error) {
	select {
	case d := <-p.slots[i]:
		<-p.ahead
		return d, d.err
	case <-ctx.Done():
		return decoded{}, ctx.Err()
	}
}

func (p *prefetcher) stop() {
	p.cancel()
	<-p.done
}
