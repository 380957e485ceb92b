package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// upsertChunkSize keeps multi-row statements well under SQLite's bind
// variable limit (27 columns per row).
const upsertChunkSize = 25

var listingColumns = []string{
	"id", "title", "url", "price", "price_evaluation",
	"make", "model", "version", "year", "mileage",
	"fuel_type", "gearbox", "engine_capacity", "engine_power",
	"city", "region", "seller_name", "seller_type",
	"thumbnail_url", "badges", "deal_score", "score_breakdown", "is_active",
	"listing_date", "first_seen_at", "last_seen_at", "created_at",
}

type listingRepository struct {
	db *DB
}

func NewListingRepository(db *DB) ListingRepository {
	return &listingRepository{db: db}
}

// UpsertBatch reconciles one batch of scored listings against the store in a
// single transaction: existing ids are found with one membership query, price
// changes and first sightings get a price_history row each, then the batch is
// applied as chunked multi-row upserts.
func (r *listingRepository) UpsertBatch(listings []Listing, now time.Time) (int, int, error) {
	if len(listings) == 0 {
		return 0, 0, nil
	}

	// A promoted ad can appear on more than one page; the last observation
	// within the batch wins.
	deduped := dedupeByID(listings)

	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := existingPrices(tx, deduped)
	if err != nil {
		return 0, 0, err
	}

	newCount := 0
	updatedCount := 0
	type historyRow struct {
		id    string
		price int64
	}
	var history []historyRow

	for _, l := range deduped {
		oldPrice, known := existing[l.ID]
		if known {
			updatedCount++
			if oldPrice != l.Price {
				history = append(history, historyRow{l.ID, l.Price})
			}
		} else {
			newCount++
			history = append(history, historyRow{l.ID, l.Price})
		}
	}

	for start := 0; start < len(deduped); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(deduped))
		if err := upsertChunk(tx, deduped[start:end], now); err != nil {
			return 0, 0, err
		}
	}

	for _, h := range history {
		_, err := tx.Exec(
			"INSERT INTO price_history (listing_id, price, recorded_at) VALUES (?, ?, ?)",
			h.id, h.price, now.Unix())
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert price history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit upsert batch: %w", err)
	}

	return newCount, updatedCount, nil
}

func dedupeByID(listings []Listing) []Listing {
	index := make(map[string]int, len(listings))
	out := make([]Listing, 0, len(listings))
	for _, l := range listings {
		if i, ok := index[l.ID]; ok {
			out[i] = l
			continue
		}
		index[l.ID] = len(out)
		out = append(out, l)
	}
	return out
}

// existingPrices returns id -> stored price for the batch's ids, chunked to
// respect the bind variable limit.
func existingPrices(tx *sql.Tx, listings []Listing) (map[string]int64, error) {
	existing := make(map[string]int64)

	for start := 0; start < len(listings); start += 500 {
		end := min(start+500, len(listings))
		chunk := listings[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, l := range chunk {
			args[i] = l.ID
		}

		rows, err := tx.Query(
			"SELECT id, price FROM listings WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing listings: %w", err)
		}
		for rows.Next() {
			var id string
			var price int64
			if err := rows.Scan(&id, &price); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan existing listing: %w", err)
			}
			existing[id] = price
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating existing listings: %w", err)
		}
		rows.Close()
	}

	return existing, nil
}

func upsertChunk(tx *sql.Tx, chunk []Listing, now time.Time) error {
	valueRow := "(" + strings.TrimSuffix(strings.Repeat("?,", len(listingColumns)), ",") + ")"
	values := strings.TrimSuffix(strings.Repeat(valueRow+",", len(chunk)), ",")

	args := make([]interface{}, 0, len(chunk)*len(listingColumns))
	for _, l := range chunk {
		args = append(args,
			l.ID, l.Title, l.URL, l.Price, l.PriceEvaluation,
			l.Make, l.Model, l.Version, l.Year, l.Mileage,
			l.FuelType, l.Gearbox, l.EngineCapacity, l.EnginePower,
			l.City, l.Region, l.SellerName, l.SellerType,
			l.ThumbnailURL, l.Badges, l.DealScore, l.ScoreBreakdown, true,
			unixOrNil(l.ListingDate), now.Unix(), now.Unix(), now.Unix(),
		)
	}

	_, err := tx.Exec(`
		INSERT INTO listings (`+strings.Join(listingColumns, ", ")+`)
		VALUES `+values+`
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			price = excluded.price,
			price_evaluation = excluded.price_evaluation,
			make = excluded.make,
			model = excluded.model,
			version = excluded.version,
			year = excluded.year,
			mileage = excluded.mileage,
			fuel_type = excluded.fuel_type,
			gearbox = excluded.gearbox,
			engine_capacity = excluded.engine_capacity,
			engine_power = excluded.engine_power,
			city = excluded.city,
			region = excluded.region,
			seller_name = excluded.seller_name,
			seller_type = excluded.seller_type,
			thumbnail_url = excluded.thumbnail_url,
			badges = excluded.badges,
			deal_score = excluded.deal_score,
			score_breakdown = excluded.score_breakdown,
			is_active = 1,
			listing_date = COALESCE(excluded.listing_date, listings.listing_date),
			last_seen_at = excluded.last_seen_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert listings: %w", err)
	}

	return nil
}

func (r *listingRepository) MarkInactiveNotSeenSince(threshold time.Time) (int64, error) {
	result, err := r.db.Exec(
		"UPDATE listings SET is_active = 0 WHERE last_seen_at < ? AND is_active = 1",
		threshold.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to mark listings inactive: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return count, nil
}

const selectListing = `
	SELECT id, title, url, price, COALESCE(price_evaluation, ''),
	       COALESCE(make, ''), COALESCE(model, ''), COALESCE(version, ''),
	       COALESCE(year, 0), COALESCE(mileage, 0),
	       COALESCE(fuel_type, ''), COALESCE(gearbox, ''),
	       COALESCE(engine_capacity, 0), COALESCE(engine_power, 0),
	       COALESCE(city, ''), COALESCE(region, ''),
	       COALESCE(seller_name, ''), COALESCE(seller_type, ''),
	       COALESCE(thumbnail_url, ''), COALESCE(badges, '[]'),
	       COALESCE(deal_score, 0), COALESCE(score_breakdown, '{}'),
	       is_active, listing_date, first_seen_at, last_seen_at, created_at
	FROM listings
`

func (r *listingRepository) GetListing(id string) (*Listing, error) {
	row := r.db.QueryRow(selectListing+" WHERE id = ?", id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return l, nil
}

func (r *listingRepository) ListListings(filter ListingFilter) ([]Listing, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.Make != "" {
		where = append(where, "make = ?")
		args = append(args, filter.Make)
	}
	if filter.Model != "" {
		where = append(where, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.MinScore > 0 {
		where = append(where, "deal_score >= ?")
		args = append(args, filter.MinScore)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := r.db.Query(
		selectListing+" WHERE "+strings.Join(where, " AND ")+
			" ORDER BY deal_score DESC, last_seen_at DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		listings = append(listings, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listing rows: %w", err)
	}

	return listings, nil
}

func (r *listingRepository) GetPriceHistory(listingID string) ([]PriceHistoryEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, listing_id, price, recorded_at
		FROM price_history
		WHERE listing_id = ?
		ORDER BY recorded_at ASC, id ASC
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	var entries []PriceHistoryEntry
	for rows.Next() {
		var e PriceHistoryEntry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.ListingID, &e.Price, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price history row: %w", err)
		}
		e.RecordedAt = time.Unix(recordedAt, 0).UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history rows: %w", err)
	}

	return entries, nil
}

func (r *listingRepository) GetSavedDeals(limit int) ([]SavedDeal, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, listing_id, COALESCE(notes, ''), saved_at
		FROM saved_deals
		ORDER BY saved_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get saved deals: %w", err)
	}
	defer rows.Close()

	var deals []SavedDeal
	for rows.Next() {
		var d SavedDeal
		var savedAt int64
		if err := rows.Scan(&d.ID, &d.ListingID, &d.Notes, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved deal row: %w", err)
		}
		d.SavedAt = time.Unix(savedAt, 0).UTC()
		deals = append(deals, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saved deal rows: %w", err)
	}

	return deals, nil
}

func (r *listingRepository) GetStats() (Stats, error) {
	var s Stats

	err := r.db.QueryRow("SELECT COUNT(*) FROM listings").Scan(&s.TotalListings)
	if err != nil {
		return s, fmt.Errorf("failed to count listings: %w", err)
	}

	err = r.db.QueryRow("SELECT COUNT(*) FROM listings WHERE is_active = 1").Scan(&s.ActiveListings)
	if err != nil {
		return s, fmt.Errorf("failed to count active listings: %w", err)
	}

	err = r.db.QueryRow(
		"SELECT COUNT(*) FROM listings WHERE price_evaluation = 'BELOW' AND is_active = 1").
		Scan(&s.BelowMarket)
	if err != nil {
		return s, fmt.Errorf("failed to count below-market listings: %w", err)
	}

	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var listingDate sql.NullInt64
	var firstSeen, lastSeen, createdAt int64

	err := row.Scan(
		&l.ID, &l.Title, &l.URL, &l.Price, &l.PriceEvaluation,
		&l.Make, &l.Model, &l.Version, &l.Year, &l.Mileage,
		&l.FuelType, &l.Gearbox, &l.EngineCapacity, &l.EnginePower,
		&l.City, &l.Region, &l.SellerName, &l.SellerType,
		&l.ThumbnailURL, &l.Badges, &l.DealScore, &l.ScoreBreakdown,
		&l.IsActive, &listingDate, &firstSeen, &lastSeen, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if listingDate.Valid {
		t := time.Unix(listingDate.Int64, 0).UTC()
		l.ListingDate = &t
	}
	l.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
	l.LastSeenAt = time.Unix(lastSeen, 0).UTC()
	l.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &l, nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
