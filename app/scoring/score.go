// Package scoring computes a 0-100 deal score for a listing from its price
// evaluation (50%), mileage relative to age (25%), age (15%) and listing
// freshness (10%). The calculation is pure: same listing and clock, same
// score.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/pechincha/harvester/app/upstream"
)

const expectedKmPerYear = 15000

// Component is one weighted factor of the final score.
type Component struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Value  any     `json:"value,omitempty"`
}

// Breakdown explains how the deal score was assembled.
type Breakdown struct {
	PriceEvaluation Component `json:"price_evaluation"`
	Mileage         Component `json:"mileage"`
	Age             Component `json:"age"`
	Freshness       Component `json:"freshness"`
}

// DealScore returns the weighted score and its breakdown for one listing.
func DealScore(l upstream.Listing, now time.Time) (float64, Breakdown) {
	var b Breakdown

	priceScore := priceEvaluationScore(l.PriceEvaluation)
	b.PriceEvaluation = Component{Score: priceScore, Weight: 0.5, Value: evalLabel(l.PriceEvaluation)}

	mileageScore := mileageScore(l, now)
	b.Mileage = Component{Score: mileageScore, Weight: 0.25}
	if l.Mileage > 0 {
		b.Mileage.Value = l.Mileage
	}

	ageScore := ageScore(l.Year, now)
	b.Age = Component{Score: ageScore, Weight: 0.15}
	if l.Year > 0 {
		b.Age.Value = now.Year() - l.Year
	}

	freshnessScore := freshnessScore(l.ListingDate, now)
	b.Freshness = Component{Score: freshnessScore, Weight: 0.10}
	if l.ListingDate != nil {
		b.Freshness.Value = int(now.Sub(*l.ListingDate).Hours() / 24)
	}

	total := priceScore*0.5 + mileageScore*0.25 + ageScore*0.15 + freshnessScore*0.10
	return math.Round(total*10) / 10, b
}

func priceEvaluationScore(eval string) float64 {
	switch strings.ToUpper(eval) {
	case "BELOW":
		return 100
	case "IN":
		return 50
	case "ABOVE":
		return 10
	default:
		return 50
	}
}

func evalLabel(eval string) string {
	if eval == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(eval)
}

func mileageScore(l upstream.Listing, now time.Time) float64 {
	if l.Year == 0 || l.Mileage == 0 {
		return 50
	}

	age := now.Year() - l.Year
	if age < 1 {
		age = 1
	}
	ratio := float64(l.Mileage) / float64(age*expectedKmPerYear)

	switch {
	case ratio <= 0.5:
		return 100
	case ratio <= 0.75:
		return 85
	case ratio <= 1.0:
		return 70
	case ratio <= 1.25:
		return 50
	case ratio <= 1.5:
		return 30
	default:
		return 10
	}
}

func ageScore(year int, now time.Time) float64 {
	if year == 0 {
		return 50
	}

	age := now.Year() - year
	switch {
	case age <= 1:
		return 100
	case age <= 3:
		return 85
	case age <= 5:
		return 70
	case age <= 8:
		return 50
	case age <= 12:
		return 30
	default:
		return 15
	}
}

func freshnessScore(listed *time.Time, now time.Time) float64 {
	if listed == nil {
		return 50
	}

	days := int(now.Sub(*listed).Hours() / 24)
	switch {
	case days <= 1:
		return 100
	case days <= 3:
		return 85
	case days <= 7:
		return 70
	case days <= 14:
		return 50
	case days <= 30:
		return 30
	default:
		return 15
	}
}
