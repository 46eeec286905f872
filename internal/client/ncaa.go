package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/models"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the men's D1 basketball scoreboard root
const DefaultBaseURL = "https://data.ncaa.com/casablanca/scoreboard/basketball-men/d1"

// Client is the NCAA scoreboard feed client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter chan struct{} // Rate limiting semaphore
	maxRetries  int
	retryDelay  time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithMaxRetries sets how many times a failed request is retried
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base backoff delay
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new scoreboard feed client
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	// Max 4 concurrent requests against the public feed
	rateLimiter := make(chan struct{}, 4)
	for i := 0; i < cap(rateLimiter); i++ {
		rateLimiter <- struct{}{}
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		rateLimiter: rateLimiter,
		maxRetries:  3,
		retryDelay:  1 * time.Second,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FormatTwoDigit renders a month or day as the two-digit path segment the feed expects.
// Values outside 1..99 are rejected.
func FormatTwoDigit(n int) (string, error) {
	switch {
	case n >= 1 && n <= 9:
		return "0" + strconv.Itoa(n), nil
	case n >= 10 && n <= 99:
		return strconv.Itoa(n), nil
	default:
		return "", &models.InvalidDateError{Value: n}
	}
}

// DayURL builds the scoreboard URL for a calendar day.
// Month must be 1-12 and day 1-31; both are rendered with FormatTwoDigit.
func (c *Client) DayURL(year, month, day int) (string, error) {
	if month < 1 || month > 12 {
		return "", &models.InvalidDateError{Component: "month", Value: month}
	}
	if day < 1 || day > 31 {
		return "", &models.InvalidDateError{Component: "day", Value: day}
	}
	mm, err := FormatTwoDigit(month)
	if err != nil {
		return "", &models.InvalidDateError{Component: "month", Value: month}
	}
	dd, err := FormatTwoDigit(day)
	if err != nil {
		return "", &models.InvalidDateError{Component: "day", Value: day}
	}
	return fmt.Sprintf("%s/%d/%s/%s/scoreboard.json", c.baseURL, year, mm, dd), nil
}

// FetchDay retrieves the list of raw games for one calendar day.
// Non-success responses and transport failures are FetchErrors; bodies that
// are not a scoreboard document are ParseErrors.
func (c *Client) FetchDay(ctx context.Context, year, month, day int) ([]models.RawGame, error) {
	url, err := c.DayURL(year, month, day)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.get(ctx, url)
	if err != nil {
		metrics.RecordAPICall("scoreboard", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordAPICall("scoreboard", "success", time.Since(start).Seconds())

	var board models.Scoreboard
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, &models.ParseError{Field: "scoreboard", Value: url, Err: err}
	}

	games := board.RawGames()
	log.Debug().
		Str("url", url).
		Int("games", len(games)).
		Msg("Fetched scoreboard")

	return games, nil
}

// get performs a GET request with retry logic and rate limiting
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, unless the feed asked for a specific wait
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			if retryAfter > 0 {
				backoff = retryAfter
			}
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))

			log.Info().
				Str("url", url).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying feed request after backoff")

			select {
			case <-ctx.Done():
				return nil, &models.FetchError{URL: url, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, status, err := c.do(ctx, url)
		retryAfter = 0

		switch {
		case err != nil:
			lastErr = &models.FetchError{URL: url, Err: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue

		case status == http.StatusOK:
			log.Debug().
				Str("url", url).
				Int("status", status).
				Int("size", len(body.data)).
				Msg("Feed request successful")
			return body.data, nil

		case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
			lastErr = &models.FetchError{URL: url, StatusCode: status, Err: fmt.Errorf("retryable status: %s", snippet(body))}
			if ra, ok := body.retryAfter(); ok {
				retryAfter = ra
			}
			log.Warn().
				Str("url", url).
				Int("status", status).
				Int("attempt", attempt+1).
				Msg("Received retryable error, will retry")
			continue

		default:
			// Other errors (including 404 for days without a scoreboard) - don't retry
			return nil, &models.FetchError{URL: url, StatusCode: status, Err: fmt.Errorf("unexpected status: %s", snippet(body))}
		}
	}

	return nil, lastErr
}

// response is a read body plus the Retry-After header it came with
type response struct {
	data   []byte
	header string
}

func (r *response) retryAfter() (time.Duration, bool) {
	if r == nil || r.header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(r.header))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func (c *Client) do(ctx context.Context, url string) (*response, int, error) {
	// Rate limiting: acquire semaphore
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-c.rateLimiter:
	}
	defer func() { c.rateLimiter <- struct{}{} }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "bracket-tracker/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	return &response{data: data, header: resp.Header.Get("Retry-After")}, resp.StatusCode, nil
}

func snippet(r *response) string {
	if r == nil {
		return ""
	}
	const limit = 200
	s := strings.TrimSpace(string(r.data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
