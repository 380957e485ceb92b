package upstream

import (
	"testing"
)

const sampleNode = `{
	"id": 12345,
	"title": "BMW 320d Touring",
	"url": "https://marketplace.example.com/ad/12345",
	"createdAt": "2025-12-12T22:50:46Z",
	"price": {"amount": {"units": 18500}},
	"priceEvaluation": {"indicator": "BELOW"},
	"location": {"city": {"name": "Porto"}, "region": {"name": "Norte"}},
	"sellerLink": {"name": "Stand Norte"},
	"sellerType": "PROFESSIONAL",
	"thumbnail": {"x1": "https://img.example.com/12345.jpg"},
	"badges": [{"type": "FEATURED"}, "CERTIFIED"],
	"parameters": [
		{"key": "make", "value": "bmw"},
		{"key": "model", "value": "320"},
		{"key": "fuel_type", "value": "diesel"},
		{"key": "gearbox", "value": "manual"},
		{"key": "mileage", "value": "142000"},
		{"key": "engine_capacity", "value": 1995},
		{"key": "engine_power", "value": "190"},
		{"key": "first_registration_year", "value": "2019"}
	]
}`

func TestExtractListings_FullNode(t *testing.T) {
	body := `{"data": {"advertSearch": {"totalCount": 4421, "edges": [{"node": ` + sampleNode + `}]}}}`

	listings, total, gqlErr, err := extractListings([]byte(body))
	if err != nil {
		t.Fatalf("extractListings failed: %v", err)
	}
	if gqlErr != "" {
		t.Fatalf("Unexpected upstream error: %s", gqlErr)
	}
	if total != 4421 {
		t.Errorf("Expected total 4421, got %d", total)
	}
	if len(listings) != 1 {
		t.Fatalf("Expected 1 listing, got %d", len(listings))
	}

	l := listings[0]
	if l.ID != "12345" {
		t.Errorf("Expected numeric id normalized to '12345', got '%s'", l.ID)
	}
	if l.Title != "BMW 320d Touring" {
		t.Errorf("Unexpected title: %s", l.Title)
	}
	if l.Price != 18500 {
		t.Errorf("Expected price 18500, got %d", l.Price)
	}
	if l.PriceEvaluation != "BELOW" {
		t.Errorf("Expected price evaluation BELOW, got '%s'", l.PriceEvaluation)
	}
	if l.Make != "bmw" || l.Model != "320" {
		t.Errorf("Unexpected make/model: %s/%s", l.Make, l.Model)
	}
	if l.Year != 2019 {
		t.Errorf("Expected year 2019, got %d", l.Year)
	}
	if l.Mileage != 142000 {
		t.Errorf("Expected mileage 142000, got %d", l.Mileage)
	}
	if l.EngineCapacity != 1995 {
		t.Errorf("Expected numeric parameter normalized to 1995, got %d", l.EngineCapacity)
	}
	if l.EnginePower != 190 {
		t.Errorf("Expected engine power 190, got %d", l.EnginePower)
	}
	if l.City != "Porto" || l.Region != "Norte" {
		t.Errorf("Unexpected location: %s/%s", l.City, l.Region)
	}
	if l.SellerName != "Stand Norte" || l.SellerType != "PROFESSIONAL" {
		t.Errorf("Unexpected seller: %s/%s", l.SellerName, l.SellerType)
	}
	if len(l.Badges) != 2 || l.Badges[0] != "FEATURED" || l.Badges[1] != "CERTIFIED" {
		t.Errorf("Expected badges from both shapes, got %v", l.Badges)
	}
	if l.ListingDate == nil {
		t.Error("Expected listing date to be parsed")
	} else if l.ListingDate.Year() != 2025 {
		t.Errorf("Unexpected listing date: %v", l.ListingDate)
	}
}

func TestExtractListings_SparseNode(t *testing.T) {
	body := `{"data": {"listingScreen": {"ads": {"totalCount": 1, "edges": [{"node": {"id": "99"}}]}}}}`

	listings, total, gqlErr, err := extractListings([]byte(body))
	if err != nil || gqlErr != "" {
		t.Fatalf("Sparse node should not fail: err=%v gqlErr=%s", err, gqlErr)
	}
	if total != 1 {
		t.Errorf("Expected total 1, got %d", total)
	}
	if len(listings) != 1 {
		t.Fatalf("Expected 1 listing, got %d", len(listings))
	}

	l := listings[0]
	if l.ID != "99" {
		t.Errorf("Expected id '99', got '%s'", l.ID)
	}
	if l.Price != 0 || l.Year != 0 || l.ListingDate != nil {
		t.Error("Absent fields should stay at zero values")
	}
}

func TestExtractListings_NodeWithoutIDDropped(t *testing.T) {
	body := `{"data": {"advertSearch": {"totalCount": 2, "edges": [{"node": {"title": "no id"}}, {"node": {"id": "1"}}]}}}`

	listings, _, _, err := extractListings([]byte(body))
	if err != nil {
		t.Fatalf("extractListings failed: %v", err)
	}
	if len(listings) != 1 {
		t.Errorf("Expected node without id to be dropped, got %d listings", len(listings))
	}
}

func TestExtractListings_ErrorsList(t *testing.T) {
	body := `{"errors": [{"message": "rate budget exceeded"}]}`

	_, _, gqlErr, err := extractListings([]byte(body))
	if err != nil {
		t.Fatalf("Structured errors are not a parse failure: %v", err)
	}
	if gqlErr != "rate budget exceeded" {
		t.Errorf("Expected upstream error message, got '%s'", gqlErr)
	}
}

func TestExtractListings_MalformedShape(t *testing.T) {
	for _, body := range []string{
		`not json at all`,
		`{"data": null}`,
		`{"data": {"unrelated": 1}}`,
	} {
		if _, _, _, err := extractListings([]byte(body)); err == nil {
			t.Errorf("Expected malformed error for %q", body)
		}
	}
}
