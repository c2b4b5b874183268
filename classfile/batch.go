package classfile

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ParseAll parses inputs on up to workers goroutines. Results are in input
// order. Every failure is reported in the returned *multierror.Error, tagged
// with the index of its input; on failure the slice is nil. A cancelled
// ctx stops dispatching new inputs.
func (c *Context) ParseAll(ctx context.Context, inputs [][]byte, workers int) ([]*ClassModel, error) {
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, len(inputs))

	models := make([]*ClassModel, len(inputs))
	errs := make([]error, len(inputs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				models[i], errs[i] = c.Parse(inputs[i])
			}
		}()
	}

	var result *multierror.Error
dispatch:
	for i := range inputs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			result = multierror.Append(result, ctx.Err())
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("input %d: %w", i, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		Logger().Debug("batch parse failed", zap.Int("inputs", len(inputs)), zap.Int("errors", result.Len()))
		return nil, err
	}
	return models, nil
}
