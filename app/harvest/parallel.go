package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/upstream"
)

// BatchFetcher fetches groups of pages concurrently.
type BatchFetcher interface {
	FetchPage(ctx context.Context, page int) upstream.Result
	TotalPages(totalCount int) int
	FetchPages(ctx context.Context, pages []int, progress func(completed, total int)) []upstream.Result
}

// ParallelRunner drives a concurrent harvest: pages are fetched in fixed
// batches, buffered listings are flushed to the store once the buffer grows
// past the flush threshold, and the checkpoint only ever advances to the
// highest page with no unfinished page below it.
type ParallelRunner struct {
	fetcher     BatchFetcher
	checkpoints *CheckpointManager
	ingester    *Ingester
	listings    database.ListingRepository
	runs        database.RunRepository
	opts        Options

	batchSize      int
	flushThreshold int
	retryRounds    int
}

func NewParallelRunner(fetcher BatchFetcher, checkpoints *CheckpointManager,
	ingester *Ingester, listings database.ListingRepository, runs database.RunRepository,
	opts Options, batchSize, flushThreshold, retryRounds int) *ParallelRunner {
	return &ParallelRunner{
		fetcher:        fetcher,
		checkpoints:    checkpoints,
		ingester:       ingester,
		listings:       listings,
		runs:           runs,
		opts:           opts,
		batchSize:      batchSize,
		flushThreshold: flushThreshold,
		retryRounds:    retryRounds,
	}
}

// Run executes one concurrent harvest to a terminal status.
func (r *ParallelRunner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	run, err := r.runs.CreateRun()
	if err != nil {
		return nil, fmt.Errorf("failed to open run record: %w", err)
	}

	var cp *Checkpoint
	if r.opts.Resume {
		cp = r.checkpoints.Load()
	}

	first := r.fetcher.FetchPage(ctx, 1)
	if first.Failed() {
		if ctx.Err() != nil {
			return r.interrupted(run.ID, cp, start)
		}
		return r.failed(run.ID, nil, start, fmt.Errorf("first page fetch failed: %s", first.Err.Detail))
	}

	totalPages := min(r.fetcher.TotalPages(first.TotalCount), r.opts.MaxPages)

	startPage := 2
	fresh := cp == nil || cp.TotalPages == 0
	if fresh {
		cp, err = r.checkpoints.CreateInitial(totalPages)
		if err != nil {
			return r.failed(run.ID, nil, start, err)
		}
		slog.Info("Starting fresh harvest", "total_pages", totalPages, "mode", "parallel")
	} else {
		startPage = cp.LastPage + 1
		slog.Info("Resuming harvest", "start_page", startPage, "total_pages", totalPages, "mode", "parallel")
	}

	tracker := newContiguityTracker(max(1, startPage-1))
	buf := newListingBuffer()

	if fresh {
		newCount, updatedCount, err := r.ingester.Upsert(first.Listings)
		if err != nil {
			return r.failed(run.ID, nil, start, err)
		}
		tracker.Complete(1)
		r.checkpoints.Update(cp, tracker.LastContiguous(), len(first.Listings), newCount, updatedCount)
	}

	remaining := make([]int, 0, totalPages)
	for p := max(2, startPage); p <= totalPages; p++ {
		remaining = append(remaining, p)
	}

	var failedPages []int
	round := 0
	for len(remaining) > 0 {
		completed := 0
		failedPages = failedPages[:0]

		for off := 0; off < len(remaining); off += r.batchSize {
			end := min(off+r.batchSize, len(remaining))
			batch := remaining[off:end]

			if ctx.Err() != nil {
				if err := r.flush(cp, tracker, buf); err != nil {
					slog.Error("Failed to flush buffered listings on interrupt", "error", err)
				}
				return r.interrupted(run.ID, cp, start)
			}

			results := r.fetcher.FetchPages(ctx, batch, func(done, total int) {
				slog.Info("Batch progress", "completed", completed+done, "remaining", len(remaining))
			})

			for _, res := range results {
				if res.Failed() {
					if res.Err.Kind == upstream.KindMalformed {
						// Not retryable: counts as a completed page with no
						// listings.
						slog.Warn("Malformed payload, treating page as empty", "page", res.Page, "detail", res.Err.Detail)
						tracker.Complete(res.Page)
						continue
					}
					failedPages = append(failedPages, res.Page)
					continue
				}
				buf.Add(res.Page, res.Listings)
				tracker.Complete(res.Page)
			}
			completed += len(batch)

			// Cancellation mid-batch surfaces as canceled page failures;
			// those are an interruption, not permanent failures.
			if ctx.Err() != nil {
				if err := r.flush(cp, tracker, buf); err != nil {
					slog.Error("Failed to flush buffered listings on interrupt", "error", err)
				}
				return r.interrupted(run.ID, cp, start)
			}

			if buf.Len() >= r.flushThreshold {
				if err := r.flush(cp, tracker, buf); err != nil {
					return r.failed(run.ID, nil, start, err)
				}
				if err := r.runs.UpdateRunProgress(run.ID, cp.LastPage,
					cp.ListingsFound, cp.ListingsNew, cp.ListingsUpdated); err != nil {
					slog.Error("Failed to update run progress", "error", err)
				}
			}
		}

		if len(failedPages) == 0 || round >= r.retryRounds {
			break
		}
		round++
		sort.Ints(failedPages)
		slog.Warn("Retrying failed pages", "count", len(failedPages), "round", round)
		remaining = append([]int(nil), failedPages...)
	}

	if ctx.Err() != nil {
		if err := r.flush(cp, tracker, buf); err != nil {
			slog.Error("Failed to flush buffered listings on interrupt", "error", err)
		}
		return r.interrupted(run.ID, cp, start)
	}

	if err := r.flush(cp, tracker, buf); err != nil {
		return r.failed(run.ID, nil, start, err)
	}

	if len(failedPages) > 0 {
		sort.Ints(failedPages)
		slog.Warn("Pages permanently failed", "pages", failedPages)
	}

	// All reachable pages are done; the checkpoint may finish at totalPages
	// even when some pages in between failed for good.
	cp.LastPage = max(cp.LastPage, totalPages)

	seq := &Runner{
		checkpoints: r.checkpoints,
		listings:    r.listings,
		runs:        r.runs,
		opts:        r.opts,
	}
	return seq.finalize(run.ID, cp, start, first.TotalCount, failedPages)
}

// flush drains the buffer in page order and advances the checkpoint to the
// contiguous frontier.
func (r *ParallelRunner) flush(cp *Checkpoint, tracker *contiguityTracker, buf *listingBuffer) error {
	batch := buf.Drain()
	if len(batch) == 0 {
		return nil
	}

	newCount, updatedCount, err := r.ingester.Upsert(batch)
	if err != nil {
		return err
	}

	r.checkpoints.Update(cp, tracker.LastContiguous(), len(batch), newCount, updatedCount)
	slog.Info("Flushed listings", "count", len(batch),
		"checkpoint_page", cp.LastPage, "new", newCount, "updated", updatedCount)
	return nil
}

func (r *ParallelRunner) interrupted(runID string, cp *Checkpoint, start time.Time) (*Summary, error) {
	seq := &Runner{checkpoints: r.checkpoints, runs: r.runs}
	return seq.finishInterrupted(runID, cp, start)
}

func (r *ParallelRunner) failed(runID string, cp *Checkpoint, start time.Time, cause error) (*Summary, error) {
	seq := &Runner{checkpoints: r.checkpoints, runs: r.runs}
	return seq.finishFailed(runID, cp, start, cause)
}

// contiguityTracker reports the highest page such that every page up to and
// including it has completed. Only that frontier is safe to checkpoint: a
// resume restarts at frontier+1 and must not skip an unfinished page.
type contiguityTracker struct {
	frontier int
	done     map[int]bool
}

func newContiguityTracker(frontier int) *contiguityTracker {
	return &contiguityTracker{frontier: frontier, done: make(map[int]bool)}
}

func (t *contiguityTracker) Complete(page int) {
	if page <= t.frontier {
		return
	}
	t.done[page] = true
	for t.done[t.frontier+1] {
		t.frontier++
		delete(t.done, t.frontier)
	}
}

func (t *contiguityTracker) LastContiguous() int {
	return t.frontier
}

// listingBuffer accumulates fetched pages between flushes, keyed by page so
// the flush can run in page order.
type listingBuffer struct {
	pages    []int
	listings map[int][]upstream.Listing
	count    int
}

func newListingBuffer() *listingBuffer {
	return &listingBuffer{listings: make(map[int][]upstream.Listing)}
}

func (b *listingBuffer) Add(page int, listings []upstream.Listing) {
	if _, seen := b.listings[page]; !seen {
		b.pages = append(b.pages, page)
	}
	b.listings[page] = listings
	b.count += len(listings)
}

func (b *listingBuffer) Len() int {
	return b.count
}

// Drain returns all buffered listings in ascending page order and resets
// the buffer.
func (b *listingBuffer) Drain() []upstream.Listing {
	if b.count == 0 {
		return nil
	}
	sort.Ints(b.pages)
	out := make([]upstream.Listing, 0, b.count)
	for _, p := range b.pages {
		out = append(out, b.listings[p]...)
	}
	b.pages = b.pages[:0]
	b.listings = make(map[int][]upstream.Listing)
	b.count = 0
	return out
}
