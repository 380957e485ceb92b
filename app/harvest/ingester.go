package harvest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pechincha/harvester/app/database"
	"github.com/pechincha/harvester/app/metrics"
	"github.com/pechincha/harvester/app/scoring"
	"github.com/pechincha/harvester/app/upstream"
)

// Ingester turns extracted listings into scored, persisted rows. Each call
// is one atomic unit of work against the store.
type Ingester struct {
	listings database.ListingRepository
	now      func() time.Time
}

func NewIngester(listings database.ListingRepository) *Ingester {
	return &Ingester{listings: listings, now: time.Now}
}

// Upsert scores and persists one batch, returning (new, updated) counts.
func (i *Ingester) Upsert(batch []upstream.Listing) (int, int, error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	now := i.now().UTC()
	rows := make([]database.Listing, 0, len(batch))

	for _, l := range batch {
		score, breakdown := scoring.DealScore(l, now)

		breakdownJSON, err := json.Marshal(breakdown)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to encode score breakdown: %w", err)
		}

		badges := l.Badges
		if badges == nil {
			badges = []string{}
		}
		badgesJSON, err := json.Marshal(badges)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to encode badges: %w", err)
		}

		rows = append(rows, database.Listing{
			ID:              l.ID,
			Title:           l.Title,
			URL:             l.URL,
			Price:           l.Price,
			PriceEvaluation: l.PriceEvaluation,
			Make:            l.Make,
			Model:           l.Model,
			Version:         l.Version,
			Year:            l.Year,
			Mileage:         l.Mileage,
			FuelType:        l.FuelType,
			Gearbox:         l.Gearbox,
			EngineCapacity:  l.EngineCapacity,
			EnginePower:     l.EnginePower,
			City:            l.City,
			Region:          l.Region,
			SellerName:      l.SellerName,
			SellerType:      l.SellerType,
			ThumbnailURL:    l.ThumbnailURL,
			Badges:          string(badgesJSON),
			DealScore:       score,
			ScoreBreakdown:  string(breakdownJSON),
			ListingDate:     l.ListingDate,
		})
	}

	newCount, updatedCount, err := i.listings.UpsertBatch(rows, now)
	if err != nil {
		return 0, 0, err
	}

	metrics.ListingsUpserted.WithLabelValues("new").Add(float64(newCount))
	metrics.ListingsUpserted.WithLabelValues("updated").Add(float64(updatedCount))

	return newCount, updatedCount, nil
}
