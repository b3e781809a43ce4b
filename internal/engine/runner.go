package engine

import (
	"context"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// runBlocks executes blocks [start, end) of a with threads goroutines and
// hands results to sink in ascending index order. MakeWork and sink run on
// single goroutines; Execute runs concurrently.
func runBlocks(ctx context.Context, a analytic.Analytic, start, end, threads int, sink func(analytic.Block) error) error {
	if start >= end {
		return nil
	}
	if threads < 1 {
		threads = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	work := make(chan analytic.Block, threads)
	results := make(chan analytic.Block, threads)

	g.Go(func() error {
		defer close(work)
		for i := start; i < end; i++ {
			b, err := a.MakeWork(i)
			if err != nil {
				return blockError(err, i, "failed to make work")
			}
			b.Index = i
			select {
			case work <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for b := range work {
				r, err := a.Execute(ctx, b)
				if err != nil {
					return blockError(err, b.Index, "failed to execute block")
				}
				r.Index = b.Index
				select {
				case results <- r:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		pending := make(map[int]analytic.Block)
		next := start
		for r := range results {
			pending[r.Index] = r
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := sink(b); err != nil {
					return blockError(err, b.Index, "failed to process block")
				}
				next++
			}
		}
		if next != end && ctx.Err() == nil {
			return errors.Newf(errors.ErrorTypeInternal, "processed %d of %d blocks", next-start, end-start)
		}
		return nil
	})

	return g.Wait()
}

func blockError(err error, index int, msg string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if _, tagged := e.Detail("block"); tagged {
			return err
		}
	}
	return errors.Wrapf(err, errors.TypeOf(err), "%s %d", msg, index).WithDetail("block", index)
}
