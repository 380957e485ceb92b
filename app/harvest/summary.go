package harvest

import (
	"time"

	"github.com/pechincha/harvester/app/database"
)

// Summary is the structured result of one harvest run.
type Summary struct {
	Status           string         `json:"status"`
	PagesScraped     int            `json:"pages_scraped"`
	ListingsFound    int            `json:"listings_found"`
	ListingsNew      int            `json:"listings_new"`
	ListingsUpdated  int            `json:"listings_updated"`
	ListingsInactive int            `json:"listings_inactive"`
	Coverage         float64        `json:"coverage"`
	FailedPages      []int          `json:"failed_pages,omitempty"`
	Duration         time.Duration  `json:"duration"`
	Stats            database.Stats `json:"stats"`
}
