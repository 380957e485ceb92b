package upstream

import (
	"context"
	"sync"
)

// ParallelFetcher fans page requests out under a fixed-size admission gate.
// Pages are submitted in fixed-size batches so in-flight response buffers stay
// bounded; within a batch all pages run concurrently up to the gate's cap.
// Completion order is not meaningful - results carry their page index.
type ParallelFetcher struct {
	client      *Client
	concurrency int
	batchSize   int
}

func NewParallelFetcher(client *Client, concurrency, batchSize int) *ParallelFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &ParallelFetcher{
		client:      client,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// FetchPage fetches a single page through the underlying client.
func (f *ParallelFetcher) FetchPage(ctx context.Context, page int) Result {
	return f.client.FetchPage(ctx, page)
}

// TotalPages reports how many pages cover totalCount results.
func (f *ParallelFetcher) TotalPages(totalCount int) int {
	return f.client.TotalPages(totalCount)
}

// FetchPages fetches all requested pages and returns exactly one Result per
// page. Pages that exhaust their retry budget come back as tagged failures,
// never dropped. The progress callback, if non-nil, runs after each batch.
// Cancellation is observed between batches: remaining pages are reported as
// canceled failures.
func (f *ParallelFetcher) FetchPages(ctx context.Context, pages []int, progress func(completed, total int)) []Result {
	results := make([]Result, 0, len(pages))
	total := len(pages)
	completed := 0

	gate := make(chan struct{}, f.concurrency)

	for start := 0; start < total; start += f.batchSize {
		end := min(start+f.batchSize, total)
		batch := pages[start:end]

		if ctx.Err() != nil {
			for _, page := range pages[start:] {
				results = append(results, failure(page, KindTransient, "canceled"))
			}
			return results
		}

		batchResults := make([]Result, len(batch))
		var wg sync.WaitGroup
		for i, page := range batch {
			wg.Add(1)
			go func(i, page int) {
				defer wg.Done()

				gate <- struct{}{}
				defer func() { <-gate }()

				batchResults[i] = f.client.FetchPage(ctx, page)
			}(i, page)
		}
		wg.Wait()

		results = append(results, batchResults...)
		completed += len(batch)
		if progress != nil {
			progress(completed, total)
		}
	}

	return results
}
