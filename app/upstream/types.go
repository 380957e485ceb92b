package upstream

import (
	"fmt"
	"time"
)

// ErrorKind classifies page fetch failures so callers can decide on retry
// policy without inspecting error strings.
type ErrorKind string

const (
	// KindRateLimited marks responses that signalled throttling (HTTP 429).
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient marks timeouts and connection failures.
	KindTransient ErrorKind = "transient"
	// KindMalformed marks payloads whose top-level shape is unusable.
	KindMalformed ErrorKind = "malformed"
	// KindUpstream marks non-success statuses and structured error payloads.
	KindUpstream ErrorKind = "upstream"
)

// FetchError is a tagged per-page failure. It is carried as a value inside
// Result rather than propagated up the stack.
type FetchError struct {
	Page   int
	Kind   ErrorKind
	Detail string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("page %d: %s: %s", e.Page, e.Kind, e.Detail)
}

// Result is the uniform outcome of fetching one page: either extracted
// listings plus the API-reported total, or a tagged failure. Every requested
// page produces exactly one Result.
type Result struct {
	Page       int
	Listings   []Listing
	TotalCount int
	Err        *FetchError
}

func (r Result) Failed() bool {
	return r.Err != nil
}

// Listing is one normalized record from the upstream search payload. Any
// field the payload omits is left at its zero value; absence is never an
// error.
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
	Badges          []string
	ListingDate     *time.Time
}
