package database

import (
	"time"
)

// ListingFilter narrows ListListings results. Zero values mean "no filter".
type ListingFilter struct {
	Make       string
	Model      string
	MinScore   float64
	ActiveOnly bool
	Limit      int
}

type ListingRepository interface {
	// UpsertBatch persists one batch atomically: all rows visible or none.
	// Returns how many rows were new vs already known.
	UpsertBatch(listings []Listing, now time.Time) (int, int, error)

	// MarkInactiveNotSeenSince flips is_active off for active rows whose
	// last_seen_at predates the threshold; returns the affected count.
	MarkInactiveNotSeenSince(threshold time.Time) (int64, error)

	GetListing(id string) (*Listing, error)
	ListListings(filter ListingFilter) ([]Listing, error)
	GetPriceHistory(listingID string) ([]PriceHistoryEntry, error)
	GetSavedDeals(limit int) ([]SavedDeal, error)
	GetStats() (Stats, error)
}

type RunRepository interface {
	CreateRun() (*Run, error)
	UpdateRunProgress(id string, pagesScraped, found, new, updated int) error
	CompleteRun(id string, status string, errorMessage string) error
	SetRunDiagnostics(id string, inactive int, coverage float64, failedPages []int) error
	ListRecentRuns(limit int) ([]Run, error)
}
