package pipeline

import (
	"context"
	"sync"

	"github.com/opensource-finance/larder/internal/domain"
)

// DefaultBatchWorkers limits concurrent evaluations in EvaluateBatch.
const DefaultBatchWorkers = 10

// BatchResult pairs an evaluation with its error, in input order.
type BatchResult struct {
	Evaluation *domain.Evaluation
	Err        error
}

// EvaluateBatch evaluates many entities in parallel with a bounded
// worker pool. Results keep the order of inputs.
func (p *Pipeline) EvaluateBatch(ctx context.Context, inputs []*EvaluateInput, workers int) []BatchResult {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}

	results := make([]BatchResult, len(inputs))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, workers)

	for i, in := range inputs {
		wg.Add(1)
		go func(idx int, in *EvaluateInput) {
			defer wg.Done()

			select {
			case sem <- struct{}{}: // Acquire
			case <-ctx.Done():
				results[idx].Err = ctx.Err()
				return
			}
			defer func() { <-sem }() // Release

			eval, err := p.Evaluate(ctx, in)
			results[idx] = BatchResult{Evaluation: eval, Err: err}
		}(i, in)
	}

	wg.Wait()

	return results
}
