package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/upstream"
)

func TestContiguityTracker(t *testing.T) {
	tr := newContiguityTracker(1)

	tr.Complete(3)
	tr.Complete(4)
	if got := tr.LastContiguous(); got != 1 {
		t.Errorf("frontier = %d, want 1 while page 2 is outstanding", got)
	}

	tr.Complete(2)
	if got := tr.LastContiguous(); got != 4 {
		t.Errorf("frontier = %d, want 4 after the gap closes", got)
	}

	tr.Complete(2) // duplicate completion below the frontier
	tr.Complete(6)
	if got := tr.LastContiguous(); got != 4 {
		t.Errorf("frontier = %d, want 4 while page 5 is outstanding", got)
	}

	tr.Complete(5)
	if got := tr.LastContiguous(); got != 6 {
		t.Errorf("frontier = %d, want 6", got)
	}
}

func TestListingBufferDrainsInPageOrder(t *testing.T) {
	buf := newListingBuffer()
	buf.Add(7, []upstream.Listing{{ID: "p7"}})
	buf.Add(2, []upstream.Listing{{ID: "p2a"}, {ID: "p2b"}})
	buf.Add(5, []upstream.Listing{{ID: "p5"}})

	if got := buf.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}

	out := buf.Drain()
	want := []string{"p2a", "p2b", "p5", "p7"}
	if len(out) != len(want) {
		t.Fatalf("drained %d listings, want %d", len(out), len(want))
	}
	for i, id := range want {
		if out[i].ID != id {
			t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, id)
		}
	}

	if got := buf.Len(); got != 0 {
		t.Errorf("Len() after drain = %d, want 0", got)
	}
	if out := buf.Drain(); out != nil {
		t.Errorf("second Drain() = %v, want nil", out)
	}
}

func TestParallelRunnerCompletes(t *testing.T) {
	fetcher := newFakeFetcher(200, 20, 20) // 10 pages
	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}
	cm := testCheckpoints(t)

	r := NewParallelRunner(fetcher, cm, NewIngester(listings), listings, runs,
		defaultOptions(), 4, 60, 2)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Status != database.RunCompleted {
		t.Errorf("Status = %q, want completed", summary.Status)
	}
	if summary.PagesScraped != 10 {
		t.Errorf("PagesScraped = %d, want 10", summary.PagesScraped)
	}
	if summary.ListingsFound != 200 || summary.ListingsNew != 200 {
		t.Errorf("counts = %d found / %d new, want 200/200",
			summary.ListingsFound, summary.ListingsNew)
	}
	if len(listings.rows) != 200 {
		t.Errorf("stored %d listings, want 200", len(listings.rows))
	}
	if cp := cm.Load(); cp != nil {
		t.Error("completed checkpoint should not be resumable")
	}
}

func TestParallelRunnerRetriesFailedPages(t *testing.T) {
	fetcher := newFakeFetcher(120, 20, 20) // 6 pages
	// Page 4 fails once, then succeeds on the retry round.
	fetcher.queue(4, upstream.Result{
		Err: &upstream.FetchError{Page: 4, Kind: upstream.KindTransient, Detail: "timeout"},
	})

	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}

	r := NewParallelRunner(fetcher, testCheckpoints(t), NewIngester(listings), listings, runs,
		defaultOptions(), 3, 1000, 2)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.ListingsFound != 120 {
		t.Errorf("ListingsFound = %d, want 120 after retrying page 4", summary.ListingsFound)
	}
	if len(summary.FailedPages) != 0 {
		t.Errorf("FailedPages = %v, want none", summary.FailedPages)
	}
}

func TestParallelRunnerRecordsPermanentFailures(t *testing.T) {
	fetcher := newFakeFetcher(120, 20, 20) // 6 pages
	// Page 4 fails on the first pass and on both retry rounds.
	for range 3 {
		fetcher.queue(4, upstream.Result{
			Err: &upstream.FetchError{Page: 4, Kind: upstream.KindUpstream, Detail: "status 500"},
		})
	}

	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}

	r := NewParallelRunner(fetcher, testCheckpoints(t), NewIngester(listings), listings, runs,
		defaultOptions(), 3, 1000, 2)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Status != database.RunCompleted {
		t.Errorf("Status = %q, want completed despite a dead page", summary.Status)
	}
	if len(summary.FailedPages) != 1 || summary.FailedPages[0] != 4 {
		t.Errorf("FailedPages = %v, want [4]", summary.FailedPages)
	}
	if summary.ListingsFound != 100 {
		t.Errorf("ListingsFound = %d, want 100", summary.ListingsFound)
	}
	if len(runs.failedPages) != 1 || runs.failedPages[0] != 4 {
		t.Errorf("run diagnostics failed pages = %v, want [4]", runs.failedPages)
	}
}

func TestParallelRunnerFlushesAtThreshold(t *testing.T) {
	fetcher := newFakeFetcher(200, 20, 20) // 10 pages, 20 listings each
	listings := newFakeListingRepo()

	// Threshold of 60 listings forces intermediate flushes well before the
	// final drain.
	r := NewParallelRunner(fetcher, testCheckpoints(t), NewIngester(listings), listings, &fakeRunRepo{},
		defaultOptions(), 3, 60, 2)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Page 1 is its own upsert; the other 9 pages (180 listings) cannot all
	// fit in a single flush under the threshold.
	if listings.upsertCalls < 3 {
		t.Errorf("upsert calls = %d, want at least 3 with threshold 60", listings.upsertCalls)
	}
	if len(listings.rows) != 200 {
		t.Errorf("stored %d listings, want 200", len(listings.rows))
	}
}

func TestParallelRunnerResumesFromCheckpoint(t *testing.T) {
	cm := testCheckpoints(t)
	prior := &Checkpoint{
		LastPage:      6,
		TotalPages:    10,
		ListingsFound: 120,
		ListingsNew:   120,
		Timestamp:     time.Now().Unix(),
		Status:        CheckpointRunning,
	}
	if err := cm.Save(prior); err != nil {
		t.Fatal(err)
	}

	fetcher := newFakeFetcher(200, 20, 20)
	listings := newFakeListingRepo()

	r := NewParallelRunner(fetcher, cm, NewIngester(listings), listings, &fakeRunRepo{},
		defaultOptions(), 4, 1000, 2)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, p := range fetcher.fetched {
		if p != 1 && p < 7 {
			t.Errorf("page %d fetched, resume should start at 7", p)
		}
	}
	if summary.ListingsFound != 200 {
		t.Errorf("ListingsFound = %d, want 200 (120 prior + 80 new)", summary.ListingsFound)
	}
}

func TestParallelRunnerCancelDuringFinalRetryRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher(120, 20, 20) // 6 pages
	fetcher.cancel = cancel
	fetcher.cancelAt = 4 // cancel fires inside the batch [4,5]

	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}
	cm := testCheckpoints(t)

	// No retry rounds: the first pass is also the final one.
	r := NewParallelRunner(fetcher, cm, NewIngester(listings), listings, runs,
		defaultOptions(), 2, 1000, 0)
	summary, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on interruption", err)
	}

	if summary.Status != database.RunInterrupted {
		t.Errorf("Status = %q, want interrupted", summary.Status)
	}
	if runs.status != database.RunInterrupted {
		t.Errorf("run record status = %q, want interrupted", runs.status)
	}
	// Canceled pages are an interruption, never permanent failures.
	if len(runs.failedPages) != 0 {
		t.Errorf("run diagnostics failed pages = %v, want none", runs.failedPages)
	}

	cp := cm.Load()
	if cp == nil {
		t.Fatal("cancellation during the final round must leave a resumable checkpoint")
	}
	if cp.LastPage != 4 {
		t.Errorf("checkpoint LastPage = %d, want 4 (contiguous frontier)", cp.LastPage)
	}
	// Pages fetched before the cancel were flushed.
	if len(listings.rows) != 80 {
		t.Errorf("stored %d listings, want 80", len(listings.rows))
	}
}

func TestParallelRunnerMalformedPageNotRetried(t *testing.T) {
	fetcher := newFakeFetcher(120, 20, 20) // 6 pages
	fetcher.queue(4, upstream.Result{
		Err: &upstream.FetchError{Page: 4, Kind: upstream.KindMalformed, Detail: "unexpected payload shape"},
	})

	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}

	r := NewParallelRunner(fetcher, testCheckpoints(t), NewIngester(listings), listings, runs,
		defaultOptions(), 3, 1000, 2)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	attempts := 0
	for _, p := range fetcher.fetched {
		if p == 4 {
			attempts++
		}
	}
	if attempts != 1 {
		t.Errorf("page 4 fetched %d times, want 1 (malformed pages are not retried)", attempts)
	}
	if summary.Status != database.RunCompleted {
		t.Errorf("Status = %q, want completed", summary.Status)
	}
	if len(summary.FailedPages) != 0 {
		t.Errorf("FailedPages = %v, want none (malformed counts as an empty page)", summary.FailedPages)
	}
	if summary.ListingsFound != 100 {
		t.Errorf("ListingsFound = %d, want 100", summary.ListingsFound)
	}
}

func TestParallelRunnerInterruptFlushesAndCheckpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher(200, 20, 20) // 10 pages
	fetcher.cancel = cancel
	fetcher.cancelAt = 5 // page 1 + first batch of 4

	listings := newFakeListingRepo()
	runs := &fakeRunRepo{}
	cm := testCheckpoints(t)

	r := NewParallelRunner(fetcher, cm, NewIngester(listings), listings, runs,
		defaultOptions(), 4, 1000, 2)
	summary, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on interruption", err)
	}

	if summary.Status != database.RunInterrupted {
		t.Errorf("Status = %q, want interrupted", summary.Status)
	}

	cp := cm.Load()
	if cp == nil {
		t.Fatal("interrupt must leave a resumable checkpoint")
	}
	if cp.LastPage != 5 {
		t.Errorf("checkpoint LastPage = %d, want 5 (contiguous frontier)", cp.LastPage)
	}
	// Buffered listings were flushed before stopping.
	if len(listings.rows) != 100 {
		t.Errorf("stored %d listings, want 100 flushed on interrupt", len(listings.rows))
	}
}
