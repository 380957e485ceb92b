package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/upstream"
)

// fakeListingRepo records upserts in memory, keyed by listing id.
type fakeListingRepo struct {
	mu          sync.Mutex
	rows        map[string]database.Listing
	upsertCalls int
	upsertErr   error
	inactivated int64
}

func newFakeListingRepo() *fakeListingRepo {
	return &fakeListingRepo{rows: make(map[string]database.Listing)}
}

func (r *fakeListingRepo) UpsertBatch(listings []database.Listing, now time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, 0, r.upsertErr
	}
	r.upsertCalls++
	newCount, updated := 0, 0
	for _, l := range listings {
		if _, ok := r.rows[l.ID]; ok {
			updated++
		} else {
			newCount++
		}
		r.rows[l.ID] = l
	}
	return newCount, updated, nil
}

func (r *fakeListingRepo) MarkInactiveNotSeenSince(threshold time.Time) (int64, error) {
	return r.inactivated, nil
}

func (r *fakeListingRepo) GetListing(id string) (*database.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.rows[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (r *fakeListingRepo) ListListings(filter database.ListingFilter) ([]database.Listing, error) {
	return nil, nil
}

func (r *fakeListingRepo) GetPriceHistory(listingID string) ([]database.PriceHistoryEntry, error) {
	return nil, nil
}

func (r *fakeListingRepo) GetSavedDeals(limit int) ([]database.SavedDeal, error) {
	return nil, nil
}

func (r *fakeListingRepo) GetStats() (database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return database.Stats{TotalListings: len(r.rows), ActiveListings: len(r.rows)}, nil
}

// fakeRunRepo captures the run lifecycle calls in order.
type fakeRunRepo struct {
	run         database.Run
	status      string
	errorMsg    string
	coverage    float64
	inactive    int
	failedPages []int
	progressed  int
}

func (r *fakeRunRepo) CreateRun() (*database.Run, error) {
	r.run = database.Run{ID: "run-1", Status: database.RunRunning, StartedAt: time.Now()}
	r.status = database.RunRunning
	return &r.run, nil
}

func (r *fakeRunRepo) UpdateRunProgress(id string, pagesScraped, found, new, updated int) error {
	r.progressed++
	r.run.PagesScraped = pagesScraped
	r.run.ListingsFound = found
	r.run.ListingsNew = new
	r.run.ListingsUpdated = updated
	return nil
}

func (r *fakeRunRepo) CompleteRun(id string, status string, errorMessage string) error {
	r.status = status
	r.errorMsg = errorMessage
	return nil
}

func (r *fakeRunRepo) SetRunDiagnostics(id string, inactive int, coverage float64, failedPages []int) error {
	r.inactive = inactive
	r.coverage = coverage
	r.failedPages = failedPages
	return nil
}

func (r *fakeRunRepo) ListRecentRuns(limit int) ([]database.Run, error) {
	return []database.Run{r.run}, nil
}

// fakePacer never sleeps and counts signals.
type fakePacer struct {
	successes   int
	rateLimited int
	otherErrors int
}

func (p *fakePacer) Wait(ctx context.Context) error { return ctx.Err() }
func (p *fakePacer) OnSuccess()                     { p.successes++ }
func (p *fakePacer) OnRateLimited()                 { p.rateLimited++ }
func (p *fakePacer) OnOtherError()                  { p.otherErrors++ }
func (p *fakePacer) Stats() upstream.PacerStats     { return upstream.PacerStats{} }

// fakeFetcher serves canned per-page results. Pages not in results get a
// default page of perPage generated listings.
type fakeFetcher struct {
	mu         sync.Mutex
	totalCount int
	pageSize   int
	perPage    int
	results    map[int][]upstream.Result // consumed in order per page
	fetched    []int
	cancelAt   int // cancel this context function after N fetches
	cancel     context.CancelFunc
}

func newFakeFetcher(totalCount, pageSize, perPage int) *fakeFetcher {
	return &fakeFetcher{
		totalCount: totalCount,
		pageSize:   pageSize,
		perPage:    perPage,
		results:    make(map[int][]upstream.Result),
	}
}

func (f *fakeFetcher) queue(page int, res upstream.Result) {
	res.Page = page
	f.results[page] = append(f.results[page], res)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) upstream.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.Err() != nil {
		return upstream.Result{Page: page, Err: &upstream.FetchError{
			Page: page, Kind: upstream.KindTransient, Detail: "canceled",
		}}
	}

	f.fetched = append(f.fetched, page)

	if f.cancel != nil && len(f.fetched) >= f.cancelAt {
		f.cancel()
	}

	if queued := f.results[page]; len(queued) > 0 {
		res := queued[0]
		f.results[page] = queued[1:]
		res.TotalCount = f.totalCount
		return res
	}

	listings := make([]upstream.Listing, f.perPage)
	for i := range listings {
		listings[i] = upstream.Listing{
			ID:    fmt.Sprintf("p%d-l%d", page, i),
			Title: "Listing",
			Price: 10000,
		}
	}
	return upstream.Result{Page: page, Listings: listings, TotalCount: f.totalCount}
}

func (f *fakeFetcher) TotalPages(totalCount int) int {
	if totalCount <= 0 {
		return 1
	}
	return (totalCount + f.pageSize - 1) / f.pageSize
}

func (f *fakeFetcher) FetchPages(ctx context.Context, pages []int, progress func(completed, total int)) []upstream.Result {
	out := make([]upstream.Result, 0, len(pages))
	for _, p := range pages {
		out = append(out, f.FetchPage(ctx, p))
	}
	if progress != nil {
		progress(len(pages), len(pages))
	}
	return out
}
