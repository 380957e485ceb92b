package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pechincha/harvester/app/profile"
)

func testProfile(endpoint string) *profile.Profile {
	return &profile.Profile{
		Endpoint:      endpoint,
		OperationName: "listingScreen",
		QueryHash:     "testhash",
		PageSize:      32,
		Headers:       map[string]string{"Content-Type": "application/json"},
	}
}

func pagePayload(count, total int) string {
	edges := ""
	for i := 0; i < count; i++ {
		if i > 0 {
			edges += ","
		}
		edges += fmt.Sprintf(`{"node": {"id": "ad-%d", "title": "Car %d", "price": {"amount": {"units": %d}}}}`, i, i, 10000+i)
	}
	return fmt.Sprintf(`{"data": {"advertSearch": {"totalCount": %d, "edges": [%s]}}}`, total, edges)
}

func newTestClient(endpoint string, maxRetries int) (*Client, *[]time.Duration) {
	c := NewClient(testProfile(endpoint), "test-agent", maxRetries)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestFetchPage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, pagePayload(2, 64))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL, 5)
	result := c.FetchPage(context.Background(), 1)

	if result.Failed() {
		t.Fatalf("Expected success, got %v", result.Err)
	}
	if result.Page != 1 {
		t.Errorf("Expected page 1, got %d", result.Page)
	}
	if len(result.Listings) != 2 {
		t.Errorf("Expected 2 listings, got %d", len(result.Listings))
	}
	if result.TotalCount != 64 {
		t.Errorf("Expected total count 64, got %d", result.TotalCount)
	}
}

func TestFetchPage_RateLimitedThenSuccess(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, pagePayload(1, 32))
	}))
	defer server.Close()

	c, slept := newTestClient(server.URL, 5)
	result := c.FetchPage(context.Background(), 7)

	if result.Failed() {
		t.Fatalf("Expected success on third attempt, got %v", result.Err)
	}
	if result.Page != 7 {
		t.Errorf("Expected page 7 tag, got %d", result.Page)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	// Backoff intervals grow 2^attempt: 1s then 2s.
	if len(*slept) != 2 {
		t.Fatalf("Expected 2 backoff sleeps, got %d", len(*slept))
	}
	if (*slept)[0] != time.Second {
		t.Errorf("Expected first backoff of 1s, got %v", (*slept)[0])
	}
	if (*slept)[1] != 2*time.Second {
		t.Errorf("Expected second backoff of 2s, got %v", (*slept)[1])
	}
}

func TestFetchPage_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL, 3)
	result := c.FetchPage(context.Background(), 2)

	if !result.Failed() {
		t.Fatal("Expected failure after exhausting retries")
	}
	if result.Err.Kind != KindRateLimited {
		t.Errorf("Expected rate_limited kind, got %s", result.Err.Kind)
	}
	if result.Err.Detail != "max retries exceeded" {
		t.Errorf("Expected 'max retries exceeded', got '%s'", result.Err.Detail)
	}
	if result.Err.Page != 2 {
		t.Errorf("Expected failure tagged with page 2, got %d", result.Err.Page)
	}
}

func TestFetchPage_UpstreamStatusNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL, 5)
	result := c.FetchPage(context.Background(), 3)

	if !result.Failed() {
		t.Fatal("Expected failure for HTTP 500")
	}
	if result.Err.Kind != KindUpstream {
		t.Errorf("Expected upstream kind, got %s", result.Err.Kind)
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt for a non-retryable status, got %d", attempts)
	}
}

func TestFetchPage_StructuredErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "query rejected"}]}`)
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL, 5)
	result := c.FetchPage(context.Background(), 4)

	if !result.Failed() {
		t.Fatal("Expected failure for structured error payload")
	}
	if result.Err.Kind != KindUpstream {
		t.Errorf("Expected upstream kind, got %s", result.Err.Kind)
	}
	if result.Err.Detail != "query rejected" {
		t.Errorf("Expected error detail from payload, got '%s'", result.Err.Detail)
	}
}

func TestFetchPage_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"somethingElse": true}}`)
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL, 5)
	result := c.FetchPage(context.Background(), 5)

	if !result.Failed() {
		t.Fatal("Expected failure for malformed payload")
	}
	if result.Err.Kind != KindMalformed {
		t.Errorf("Expected malformed kind, got %s", result.Err.Kind)
	}
}

func TestTotalPages(t *testing.T) {
	c, _ := newTestClient("http://unused.example.com", 1)

	cases := []struct {
		totalCount int
		want       int
	}{
		{0, 0},
		{1, 1},
		{32, 1},
		{33, 2},
		{64, 2},
		{1000, 32},
	}

	for _, tc := range cases {
		if got := c.TotalPages(tc.totalCount); got != tc.want {
			t.Errorf("TotalPages(%d) = %d, want %d", tc.totalCount, got, tc.want)
		}
	}
}
