package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pechincha/harvester/app/metrics"
	"github.com/pechincha/harvester/app/profile"
)

const (
	requestTimeout = 30 * time.Second
	transientWait  = time.Second
)

// Client fetches one page of listings at a time with retry on transient
// failures and rate limits. All outcomes are reported as Result values; it
// never panics past this boundary.
type Client struct {
	httpClient *http.Client
	profile    *profile.Profile
	userAgent  string
	maxRetries int

	// sleep is swapped out in tests to observe backoff intervals.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(p *profile.Profile, userAgent string, maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		profile:    p,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

func (c *Client) PageSize() int {
	return c.profile.PageSize
}

// FetchPage performs the request for one page index. Rate-limited responses
// are retried after 2^attempt seconds, timeouts and connection errors after a
// short fixed wait; any other non-success status or a structured error
// payload returns a tagged failure immediately.
func (c *Client) FetchPage(ctx context.Context, page int) Result {
	var lastKind ErrorKind = KindTransient

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		status, body, err := c.doRequest(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return failure(page, KindTransient, "canceled")
			}
			lastKind = KindTransient
			metrics.FetchRetries.Inc()
			slog.Warn("Transient error, retrying", "page", page, "attempt", attempt+1, "error", err)
			if serr := c.sleep(ctx, transientWait); serr != nil {
				return failure(page, KindTransient, "canceled")
			}
			continue
		}

		if status == http.StatusTooManyRequests {
			lastKind = KindRateLimited
			metrics.RateLimited.Inc()
			metrics.FetchRetries.Inc()
			wait := time.Duration(1<<attempt) * time.Second
			slog.Warn("Rate limited, backing off", "page", page, "wait", wait)
			if serr := c.sleep(ctx, wait); serr != nil {
				return failure(page, KindRateLimited, "canceled")
			}
			continue
		}

		if status != http.StatusOK {
			metrics.PagesFetched.WithLabelValues("upstream_error").Inc()
			return failure(page, KindUpstream, fmt.Sprintf("HTTP %d", status))
		}

		result := c.decode(page, body)
		if result.Failed() {
			metrics.PagesFetched.WithLabelValues(string(result.Err.Kind)).Inc()
		} else {
			metrics.PagesFetched.WithLabelValues("success").Inc()
		}
		return result
	}

	metrics.PagesFetched.WithLabelValues("exhausted").Inc()
	return failure(page, lastKind, "max retries exceeded")
}

func (c *Client) doRequest(ctx context.Context, page int) (int, []byte, error) {
	payload, err := json.Marshal(c.profile.RequestBody(page))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range c.profile.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, classifyNetError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

func (c *Client) decode(page int, body []byte) Result {
	listings, total, gqlErr, err := extractListings(body)
	if err != nil {
		slog.Error("Unexpected response structure", "page", page, "error", err)
		return failure(page, KindMalformed, err.Error())
	}
	if gqlErr != "" {
		slog.Error("Upstream reported an error", "page", page, "error", gqlErr)
		return failure(page, KindUpstream, gqlErr)
	}

	return Result{Page: page, Listings: listings, TotalCount: total}
}

// TotalPages converts the API-reported record count into a page count.
func (c *Client) TotalPages(totalCount int) int {
	if totalCount <= 0 {
		return 0
	}
	return (totalCount + c.profile.PageSize - 1) / c.profile.PageSize
}

func failure(page int, kind ErrorKind, detail string) Result {
	return Result{Page: page, Err: &FetchError{Page: page, Kind: kind, Detail: detail}}
}

func classifyNetError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
