package sync

import (
	"context"
	"fmt"
	"sync"
)

// tickerTask is the function a pool worker runs for one ticker.
// It returns a human-readable outcome string for the run summary.
type tickerTask func(ctx context.Context, ticker string) string

// workerPool fans a list of tickers out across a bounded set of goroutines.
type workerPool struct {
	numWorkers int
}

func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &workerPool{numWorkers: numWorkers}
}

// Run processes every ticker through task and returns the outcome strings in
// input order. A panicking task is recovered and reported as its outcome so
// one bad ticker never takes down the run.
func (wp *workerPool) Run(ctx context.Context, tickers []string, task tickerTask) []string {
	numTickers := len(tickers)
	if numTickers == 0 {
		return []string{}
	}

	jobs := make(chan jobItem, numTickers)
	results := make(chan resultItem, numTickers)

	numActualWorkers := wp.numWorkers
	if numTickers < numActualWorkers {
		numActualWorkers = numTickers
	}

	var wg sync.WaitGroup
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, results, task)
		}()
	}

	for idx, ticker := range tickers {
		jobs <- jobItem{index: idx, ticker: ticker}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]string, numTickers)
	for result := range results {
		outcomes[result.index] = result.outcome
	}

	return outcomes
}

type jobItem struct {
	index  int
	ticker string
}

type resultItem struct {
	index   int
	outcome string
}

func worker(ctx context.Context, jobs <-chan jobItem, results chan<- resultItem, task tickerTask) {
	for job := range jobs {
		results <- resultItem{
			index:   job.index,
			outcome: runTask(ctx, job.ticker, task),
		}
	}
}

// runTask executes one task with panic containment.
func runTask(ctx context.Context, ticker string, task tickerTask) (outcome string) {
	defer func() {
		if p := recover(); p != nil {
			outcome = fmt.Sprintf("%s: panic: %v", ticker, p)
		}
	}()

	if ctx.Err() != nil {
		return fmt.Sprintf("%s: canceled", ticker)
	}

	return task(ctx, ticker)
}
