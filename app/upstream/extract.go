package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire shapes for the search payload. The API has shipped the ad list under
// two different roots (data.listingScreen.ads and data.advertSearch); both
// are accepted.
type searchPayload struct {
	Data *struct {
		ListingScreen *struct {
			Ads *adConnection `json:"ads"`
		} `json:"listingScreen"`
		AdvertSearch *adConnection `json:"advertSearch"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type adConnection struct {
	TotalCount int `json:"totalCount"`
	Edges      []struct {
		Node adNode `json:"node"`
	} `json:"edges"`
}

type adNode struct {
	ID    json.RawMessage `json:"id"`
	Title string          `json:"title"`
	URL   string          `json:"url"`
	Price *struct {
		Amount *struct {
			Units json.Number `json:"units"`
		} `json:"amount"`
	} `json:"price"`
	PriceEvaluation *struct {
		Indicator string `json:"indicator"`
	} `json:"priceEvaluation"`
	Location *struct {
		City   *struct{ Name string } `json:"city"`
		Region *struct{ Name string } `json:"region"`
	} `json:"location"`
	SellerLink *struct {
		Name string `json:"name"`
	} `json:"sellerLink"`
	SellerType string `json:"sellerType"`
	Thumbnail  *struct {
		X1 string `json:"x1"`
	} `json:"thumbnail"`
	Badges     []json.RawMessage `json:"badges"`
	Parameters []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	} `json:"parameters"`
	CreatedAt string `json:"createdAt"`
}

// extractListings parses the raw payload into normalized listings plus the
// API-reported total count. A structured error list is returned as gqlErr; a
// top-level shape that carries neither ads nor errors is a malformed payload.
func extractListings(body []byte) (listings []Listing, totalCount int, gqlErr string, err error) {
	var payload searchPayload
	if jerr := json.Unmarshal(body, &payload); jerr != nil {
		return nil, 0, "", fmt.Errorf("failed to parse payload: %w", jerr)
	}

	if len(payload.Errors) > 0 {
		msg := payload.Errors[0].Message
		if msg == "" {
			msg = "unknown upstream error"
		}
		return nil, 0, msg, nil
	}

	conn := payload.connection()
	if conn == nil {
		return nil, 0, "", fmt.Errorf("payload carries no ad connection")
	}

	listings = make([]Listing, 0, len(conn.Edges))
	for _, edge := range conn.Edges {
		if l, ok := normalizeNode(edge.Node); ok {
			listings = append(listings, l)
		}
	}

	return listings, conn.TotalCount, "", nil
}

func (p *searchPayload) connection() *adConnection {
	if p.Data == nil {
		return nil
	}
	if p.Data.ListingScreen != nil && p.Data.ListingScreen.Ads != nil {
		return p.Data.ListingScreen.Ads
	}
	return p.Data.AdvertSearch
}

// normalizeNode maps one ad node onto a Listing. Every field is optional;
// only a node without an id is dropped.
func normalizeNode(node adNode) (Listing, bool) {
	id := rawToString(node.ID)
	if id == "" {
		return Listing{}, false
	}

	l := Listing{
		ID:         id,
		Title:      node.Title,
		URL:        node.URL,
		SellerType: node.SellerType,
	}

	if node.Price != nil && node.Price.Amount != nil {
		l.Price, _ = node.Price.Amount.Units.Int64()
	}
	if node.PriceEvaluation != nil {
		l.PriceEvaluation = node.PriceEvaluation.Indicator
	}
	if node.Location != nil {
		if node.Location.City != nil {
			l.City = node.Location.City.Name
		}
		if node.Location.Region != nil {
			l.Region = node.Location.Region.Name
		}
	}
	if node.SellerLink != nil {
		l.SellerName = node.SellerLink.Name
	}
	if node.Thumbnail != nil {
		l.ThumbnailURL = node.Thumbnail.X1
	}

	l.Badges = normalizeBadges(node.Badges)

	params := map[string]string{}
	for _, p := range node.Parameters {
		if p.Key != "" {
			params[p.Key] = anyToString(p.Value)
		}
	}
	l.Make = params["make"]
	l.Model = params["model"]
	l.Version = params["version"]
	l.FuelType = params["fuel_type"]
	l.Gearbox = params["gearbox"]
	l.Year = atoiOrZero(params["first_registration_year"])
	l.Mileage = atoiOrZero(params["mileage"])
	l.EngineCapacity = atoiOrZero(params["engine_capacity"])
	l.EnginePower = atoiOrZero(params["engine_power"])

	if node.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, node.CreatedAt); err == nil {
			l.ListingDate = &t
		}
	}

	return l, true
}

// normalizeBadges accepts both plain string arrays and {type: ...} objects.
func normalizeBadges(raw []json.RawMessage) []string {
	var badges []string
	for _, b := range raw {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			if s != "" {
				badges = append(badges, s)
			}
			continue
		}
		var obj struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &obj); err == nil && obj.Type != "" {
			badges = append(badges, obj.Type)
		}
	}
	return badges
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return fmt.Sprint(t)
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
