package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/metrics"
	"github.com/pechincha/harvester/app/upstream"
)

// PageFetcher is the single-page capability of the upstream client.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) upstream.Result
	TotalPages(totalCount int) int
}

// Pacer is the adaptive spacing policy used between sequential fetches.
type Pacer interface {
	Wait(ctx context.Context) error
	OnSuccess()
	OnRateLimited()
	OnOtherError()
	Stats() upstream.PacerStats
}

// Options carries the run-level policy choices. StopOnEmpty and Sweep are
// deliberately explicit: both change what the dataset means.
type Options struct {
	MaxPages    int
	Resume      bool
	StopOnEmpty bool
	Sweep       bool
}

// Runner drives a strictly sequential harvest: one paced fetch at a time,
// checkpointing after every page.
type Runner struct {
	fetcher     PageFetcher
	pacer       Pacer
	checkpoints *CheckpointManager
	ingester    *Ingester
	listings    database.ListingRepository
	runs        database.RunRepository
	opts        Options
}

func NewRunner(fetcher PageFetcher, pacer Pacer, checkpoints *CheckpointManager,
	ingester *Ingester, listings database.ListingRepository, runs database.RunRepository,
	opts Options) *Runner {
	return &Runner{
		fetcher:     fetcher,
		pacer:       pacer,
		checkpoints: checkpoints,
		ingester:    ingester,
		listings:    listings,
		runs:        runs,
		opts:        opts,
	}
}

// Run executes one sequential harvest to a terminal status. A cancelled
// context yields an interrupted summary and a nil error; the checkpoint
// stays resumable.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	run, err := r.runs.CreateRun()
	if err != nil {
		return nil, fmt.Errorf("failed to open run record: %w", err)
	}

	var cp *Checkpoint
	if r.opts.Resume {
		cp = r.checkpoints.Load()
	}

	// Page 1 is always fetched, even on resume: it carries the total count.
	if err := r.pacer.Wait(ctx); err != nil {
		return r.finishInterrupted(run.ID, cp, start)
	}
	first := r.fetcher.FetchPage(ctx, 1)
	if first.Failed() {
		if ctx.Err() != nil {
			return r.finishInterrupted(run.ID, cp, start)
		}
		return r.finishFailed(run.ID, nil, start, fmt.Errorf("first page fetch failed: %s", first.Err.Detail))
	}

	totalPages := min(r.fetcher.TotalPages(first.TotalCount), r.opts.MaxPages)

	startPage := 2
	if cp != nil && cp.TotalPages > 0 {
		startPage = cp.LastPage + 1
		slog.Info("Resuming harvest", "start_page", startPage, "total_pages", totalPages)
	} else {
		cp, err = r.checkpoints.CreateInitial(totalPages)
		if err != nil {
			return r.finishFailed(run.ID, nil, start, err)
		}
		slog.Info("Starting fresh harvest", "total_pages", totalPages)
	}

	newCount, updatedCount, err := r.ingester.Upsert(first.Listings)
	if err != nil {
		return r.finishFailed(run.ID, nil, start, err)
	}
	r.checkpoints.Update(cp, 1, len(first.Listings), newCount, updatedCount)
	r.pacer.OnSuccess()

	slog.Info("Page processed", "page", 1, "total", totalPages,
		"found", len(first.Listings), "new", newCount, "updated", updatedCount)

	page := max(2, startPage)
	for page <= totalPages {
		if ctx.Err() != nil {
			return r.finishInterrupted(run.ID, cp, start)
		}
		if err := r.pacer.Wait(ctx); err != nil {
			return r.finishInterrupted(run.ID, cp, start)
		}

		result := r.fetcher.FetchPage(ctx, page)
		if result.Failed() && result.Err.Kind == upstream.KindMalformed {
			// Not retryable: an unexpected payload shape reads as a page
			// with no listings.
			slog.Warn("Malformed payload, treating as empty page", "page", page, "detail", result.Err.Detail)
			result = upstream.Result{Page: page, TotalCount: result.TotalCount}
		}
		if result.Failed() {
			if ctx.Err() != nil {
				return r.finishInterrupted(run.ID, cp, start)
			}
			switch result.Err.Kind {
			case upstream.KindRateLimited:
				// Retry the same page once the backoff has grown.
				r.pacer.OnRateLimited()
				slog.Warn("Rate limited, retrying page", "page", page)
			default:
				r.pacer.OnOtherError()
				slog.Error("Page failed, skipping", "page", page, "kind", result.Err.Kind, "detail", result.Err.Detail)
				page++
			}
			continue
		}

		if len(result.Listings) == 0 && r.opts.StopOnEmpty {
			slog.Warn("Empty page, assuming end of results", "page", page)
			break
		}

		newCount, updatedCount, err := r.ingester.Upsert(result.Listings)
		if err != nil {
			// The checkpoint on disk still holds the last completed page,
			// so the next invocation resumes instead of restarting.
			return r.finishFailed(run.ID, nil, start, err)
		}

		r.checkpoints.Update(cp, page, len(result.Listings), newCount, updatedCount)
		r.pacer.OnSuccess()

		if err := r.runs.UpdateRunProgress(run.ID, cp.LastPage,
			cp.ListingsFound, cp.ListingsNew, cp.ListingsUpdated); err != nil {
			slog.Error("Failed to update run progress", "error", err)
		}

		if page%10 == 0 {
			stats := r.pacer.Stats()
			slog.Info("Harvest progress", "page", page, "total", totalPages,
				"found", cp.ListingsFound, "new", cp.ListingsNew, "updated", cp.ListingsUpdated,
				"delay", stats.CurrentDelay, "backoff", stats.BackoffMultiplier)
		}

		page++
	}

	return r.finalize(run.ID, cp, start, first.TotalCount, nil)
}

// finalize runs the optional inactivation sweep, records diagnostics and
// transitions run and checkpoint to their terminal states.
func (r *Runner) finalize(runID string, cp *Checkpoint, start time.Time, totalCount int, failedPages []int) (*Summary, error) {
	inactive := int64(0)
	if r.opts.Sweep {
		var err error
		inactive, err = r.listings.MarkInactiveNotSeenSince(start)
		if err != nil {
			r.checkpoints.MarkFailed(cp)
			return r.finishFailed(runID, nil, start, err)
		}
		if inactive > 0 {
			metrics.ListingsInactivated.Add(float64(inactive))
			slog.Info("Inactivation sweep done", "inactive", inactive)
		}
	}

	coverage := 0.0
	if totalCount > 0 {
		coverage = float64(cp.ListingsFound) / float64(totalCount) * 100
	}

	r.checkpoints.MarkCompleted(cp)

	if err := r.runs.UpdateRunProgress(runID, cp.LastPage,
		cp.ListingsFound, cp.ListingsNew, cp.ListingsUpdated); err != nil {
		slog.Error("Failed to update run progress", "error", err)
	}
	if err := r.runs.SetRunDiagnostics(runID, int(inactive), coverage, failedPages); err != nil {
		slog.Error("Failed to set run diagnostics", "error", err)
	}
	if err := r.runs.CompleteRun(runID, database.RunCompleted, ""); err != nil {
		slog.Error("Failed to complete run record", "error", err)
	}
	metrics.RunsTotal.WithLabelValues(database.RunCompleted).Inc()

	stats, err := r.listings.GetStats()
	if err != nil {
		slog.Error("Failed to read dataset stats", "error", err)
	}

	summary := &Summary{
		Status:           database.RunCompleted,
		PagesScraped:     cp.LastPage,
		ListingsFound:    cp.ListingsFound,
		ListingsNew:      cp.ListingsNew,
		ListingsUpdated:  cp.ListingsUpdated,
		ListingsInactive: int(inactive),
		Coverage:         coverage,
		FailedPages:      failedPages,
		Duration:         time.Since(start),
		Stats:            stats,
	}

	slog.Info("Harvest completed",
		"pages", summary.PagesScraped,
		"found", summary.ListingsFound,
		"new", summary.ListingsNew,
		"updated", summary.ListingsUpdated,
		"inactive", summary.ListingsInactive,
		"coverage", fmt.Sprintf("%.1f%%", summary.Coverage),
		"duration", summary.Duration)

	return summary, nil
}

// finishInterrupted persists the checkpoint as-is and marks the run
// interrupted: stopped safely, resumable.
func (r *Runner) finishInterrupted(runID string, cp *Checkpoint, start time.Time) (*Summary, error) {
	summary := &Summary{Status: database.RunInterrupted, Duration: time.Since(start)}

	if cp != nil {
		if err := r.checkpoints.Save(cp); err != nil {
			slog.Error("Failed to save checkpoint on interrupt", "error", err)
		}
		summary.PagesScraped = cp.LastPage
		summary.ListingsFound = cp.ListingsFound
		summary.ListingsNew = cp.ListingsNew
		summary.ListingsUpdated = cp.ListingsUpdated
	}

	if err := r.runs.CompleteRun(runID, database.RunInterrupted, ""); err != nil {
		slog.Error("Failed to complete run record", "error", err)
	}
	metrics.RunsTotal.WithLabelValues(database.RunInterrupted).Inc()

	slog.Warn("Harvest interrupted", "pages", summary.PagesScraped)
	return summary, nil
}

// finishFailed marks the run failed. When cp is non-nil it is flipped to the
// failed state; passing nil leaves the on-disk checkpoint at its last-known
// good state so the next invocation can resume.
func (r *Runner) finishFailed(runID string, cp *Checkpoint, start time.Time, cause error) (*Summary, error) {
	if cp != nil {
		r.checkpoints.MarkFailed(cp)
	}

	if err := r.runs.CompleteRun(runID, database.RunFailed, cause.Error()); err != nil {
		slog.Error("Failed to complete run record", "error", err)
	}
	metrics.RunsTotal.WithLabelValues(database.RunFailed).Inc()

	slog.Error("Harvest failed", "error", cause)
	return &Summary{Status: database.RunFailed, Duration: time.Since(start)}, cause
}
