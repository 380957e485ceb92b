package database

import (
	"time"
)

// Listing is the stored form of one observed marketplace record. The natural
// key is the upstream id; rows are never hard-deleted, only flipped inactive.
type Listing struct {
	ID              string
	Title           string
	URL             string
	Price           int64
	PriceEvaluation string
	Make            string
	Model           string
	Version         string
	Year            int
	Mileage         int
	FuelType        string
	Gearbox         string
	EngineCapacity  int
	EnginePower     int
	City            string
	Region          string
	SellerName      string
	SellerType      string
	ThumbnailURL    string
	Badges          string // JSON array
	DealScore       float64
	ScoreBreakdown  string // JSON object
	IsActive        bool
	ListingDate     *time.Time
	FirstSeenAt     time.Time // set once, immutable
	LastSeenAt      time.Time // refreshed on every re-observation
	CreatedAt       time.Time
}

// PriceHistoryEntry is an append-only price observation. Exactly one entry is
// written at first sight of a listing, then one per price change.
type PriceHistoryEntry struct {
	ID         int64
	ListingID  string
	Price      int64
	RecordedAt time.Time
}

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunFailed      = "failed"
	RunInterrupted = "interrupted"
)

// Run is one execution attempt: append-only, finalized exactly once.
type Run struct {
	ID               string
	Status           string
	StartedAt        time.Time
	CompletedAt      *time.Time
	PagesScraped     int
	ListingsFound    int
	ListingsNew      int
	ListingsUpdated  int
	ListingsInactive int
	Coverage         *float64
	FailedPages      string // JSON array of page numbers
	ErrorMessage     string
}

// SavedDeal is an operator bookmark on a listing.
type SavedDeal struct {
	ID        int64
	ListingID string
	Notes     string
	SavedAt   time.Time
}

// Stats summarizes the current dataset.
type Stats struct {
	TotalListings  int `json:"total_listings"`
	ActiveListings int `json:"active_listings"`
	BelowMarket    int `json:"below_market_count"`
}
