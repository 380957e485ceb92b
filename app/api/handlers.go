package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pechincha/harvester/app/database"
)

const defaultListLimit = 100

func NewHandler(listingRepo database.ListingRepository, runRepo database.RunRepository) *Handler {
	return &Handler{
		listingRepo: listingRepo,
		runRepo:     runRepo,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if stats, err := h.listingRepo.GetStats(); err == nil {
		health["listings"] = stats.TotalListings
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.listingRepo.GetStats()
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListListings(c *gin.Context) {
	filter := database.ListingFilter{
		Make:       c.Query("make"),
		Model:      c.Query("model"),
		ActiveOnly: c.Query("active") != "false",
		Limit:      defaultListLimit,
	}

	if v := c.Query("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid min_score parameter"})
			return
		}
		filter.MinScore = score
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		filter.Limit = limit
	}

	listings, err := h.listingRepo.ListListings(filter)
	if err != nil {
		slog.Error("Database error", "operation", "list_listings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]map[string]interface{}, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingInfo(l))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"listings": out,
		"total":    len(out),
	})
}

func (h *Handler) APIGetListing(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing listing id parameter"})
		return
	}

	listing, err := h.listingRepo.GetListing(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_listing", "listing", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	details := listingInfo(*listing)

	var breakdown map[string]interface{}
	if err := json.Unmarshal([]byte(listing.ScoreBreakdown), &breakdown); err == nil {
		details["score_breakdown"] = breakdown
	}
	details["seller_name"] = listing.SellerName
	details["engine_capacity"] = listing.EngineCapacity
	details["engine_power"] = listing.EnginePower
	details["version"] = listing.Version
	details["region"] = listing.Region

	c.JSON(http.StatusOK, details)
}

func (h *Handler) APIGetPriceHistory(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing listing id parameter"})
		return
	}

	listing, err := h.listingRepo.GetListing(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_listing", "listing", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	history, err := h.listingRepo.GetPriceHistory(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_price_history", "listing", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	entries := make([]map[string]interface{}, 0, len(history))
	for _, e := range history {
		entries = append(entries, map[string]interface{}{
			"price":       e.Price,
			"recorded_at": e.RecordedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"title":      listing.Title,
		"history":    entries,
		"total":      len(entries),
	})
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	runs, err := h.runRepo.ListRecentRuns(limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]map[string]interface{}, 0, len(runs))
	for _, r := range runs {
		info := map[string]interface{}{
			"id":                r.ID,
			"status":            r.Status,
			"started_at":        r.StartedAt.Format(time.RFC3339),
			"pages_scraped":     r.PagesScraped,
			"listings_found":    r.ListingsFound,
			"listings_new":      r.ListingsNew,
			"listings_updated":  r.ListingsUpdated,
			"listings_inactive": r.ListingsInactive,
		}
		if r.CompletedAt != nil {
			info["completed_at"] = r.CompletedAt.Format(time.RFC3339)
			info["duration"] = r.CompletedAt.Sub(r.StartedAt).String()
		}
		if r.Coverage != nil {
			info["coverage"] = *r.Coverage
		}
		if r.FailedPages != "" && r.FailedPages != "[]" {
			var pages []int
			if err := json.Unmarshal([]byte(r.FailedPages), &pages); err == nil {
				info["failed_pages"] = pages
			}
		}
		if r.ErrorMessage != "" {
			info["error"] = r.ErrorMessage
		}
		out = append(out, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  out,
		"total": len(out),
	})
}

func (h *Handler) APIListSavedDeals(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	deals, err := h.listingRepo.GetSavedDeals(limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_saved_deals", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]map[string]interface{}, 0, len(deals))
	for _, d := range deals {
		out = append(out, map[string]interface{}{
			"listing_id": d.ListingID,
			"notes":      d.Notes,
			"saved_at":   d.SavedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"deals": out,
		"total": len(out),
	})
}

func listingInfo(l database.Listing) map[string]interface{} {
	info := map[string]interface{}{
		"id":               l.ID,
		"title":            l.Title,
		"url":              l.URL,
		"price":            l.Price,
		"price_evaluation": l.PriceEvaluation,
		"make":             l.Make,
		"model":            l.Model,
		"year":             l.Year,
		"mileage":          l.Mileage,
		"fuel_type":        l.FuelType,
		"gearbox":          l.Gearbox,
		"city":             l.City,
		"seller_type":      l.SellerType,
		"deal_score":       l.DealScore,
		"is_active":        l.IsActive,
		"first_seen_at":    l.FirstSeenAt.Format(time.RFC3339),
		"last_seen_at":     l.LastSeenAt.Format(time.RFC3339),
	}

	var badges []string
	if err := json.Unmarshal([]byte(l.Badges), &badges); err == nil {
		info["badges"] = badges
	}

	if l.ThumbnailURL != "" {
		info["thumbnail_url"] = l.ThumbnailURL
	}
	if l.ListingDate != nil {
		info["listing_date"] = l.ListingDate.Format(time.RFC3339)
	}

	return info
}
