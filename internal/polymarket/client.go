package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
)

// maxTagOffset bounds tag pagination when resolving labels.
const maxTagOffset = 1000

// Client provides access to the Polymarket gamma API
type Client struct {
	apiBaseURL     string
	httpClient     *http.Client
	limiter        *rate.Limiter
	pageSize       int
	maxPages       int
	maxRetries     int
	retryDelayBase time.Duration
}

// Options tunes pagination, rate limiting and retries.
type Options struct {
	PageSize          int
	MaxPages          int
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelayBase    time.Duration
}

// Tag is a gamma category tag.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// PolymarketEvent represents an event from the gamma API
type PolymarketEvent struct {
	ID         string             `json:"id"`
	Slug       string             `json:"slug"`
	Title      string             `json:"title"`
	Active     bool               `json:"active"`
	Closed     bool               `json:"closed"`
	Volume24hr Number             `json:"volume24hr"`
	Liquidity  Number             `json:"liquidity"`
	Markets    []PolymarketMarket `json:"markets"`
	Tags       []Tag              `json:"tags"`
}

// PolymarketMarket represents a market nested in an event.
// ClobTokenIds arrives either as a JSON-encoded string or a native list.
type PolymarketMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ClobTokenIds json.RawMessage `json:"clobTokenIds"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
	Volume24hr   Number          `json:"volume24hr"`
	Liquidity    Number          `json:"liquidity"`
	OpenInterest Number          `json:"openInterest"`
}

// Number decodes a gamma numeric field sent either as a JSON number or a string.
type Number float64

// UnmarshalJSON accepts 12.5, "12.5", "" and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// NewClient creates a new gamma client
func NewClient(apiBaseURL string, timeout time.Duration, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:        rate.NewLimiter(limit, 1),
		pageSize:       opts.PageSize,
		maxPages:       opts.MaxPages,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
	}
}

// FetchTags retrieves one page of tags
func (c *Client) FetchTags(ctx context.Context, limit, offset int) ([]Tag, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var tags []Tag
	if err := c.getJSON(ctx, "/tags", q, &tags); err != nil {
		return nil, fmt.Errorf("failed to fetch tags: %w", err)
	}
	return tags, nil
}

// ResolveTags maps case-insensitive tag labels to tags. Labels with no match are absent
// from the result.
func (c *Client) ResolveTags(ctx context.Context, labels []string) (map[string]Tag, error) {
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}

	resolved := make(map[string]Tag)
	for offset := 0; len(resolved) < len(want) && offset <= maxTagOffset; offset += c.pageSize {
		tags, err := c.FetchTags(ctx, c.pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(tags) == 0 {
			break
		}
		for _, tag := range tags {
			label := strings.ToLower(strings.TrimSpace(tag.Label))
			if _, ok := want[label]; !ok {
				continue
			}
			if _, dup := resolved[label]; !dup {
				resolved[label] = tag
			}
		}
	}
	return resolved, nil
}

// FetchEvents retrieves all open events carrying tagID, following limit/offset pages
// until a short page or the page cap.
func (c *Client) FetchEvents(ctx context.Context, tagID string) ([]PolymarketEvent, error) {
	var events []PolymarketEvent
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(page*c.pageSize))
		if tagID != "" {
			q.Set("tag_id", tagID)
		}

		var batch []PolymarketEvent
		if err := c.getJSON(ctx, "/events", q, &batch); err != nil {
			return nil, fmt.Errorf("failed to fetch events page %d: %w", page, err)
		}
		events = append(events, batch...)
		if len(batch) < c.pageSize {
			return events, nil
		}
	}
	logger.Warn("Event pagination for tag %q stopped at %d pages", tagID, c.maxPages)
	return events, nil
}

// Flatten turns an event into catalogue rows, one per nested market. Markets without
// an ID or question are skipped.
func Flatten(event PolymarketEvent, category string, now time.Time) []models.Market {
	eventKey := event.Slug
	if eventKey == "" {
		eventKey = event.ID
	}

	markets := make([]models.Market, 0, len(event.Markets))
	for _, pm := range event.Markets {
		question := strings.TrimSpace(pm.Question)
		if pm.ID == "" || question == "" {
			continue
		}
		markets = append(markets, models.Market{
			ID:           pm.ID,
			Question:     question,
			Slug:         pm.Slug,
			EventKey:     eventKey,
			EventTitle:   event.Title,
			Category:     category,
			TokenIDs:     rawTokenIDs(pm.ClobTokenIds),
			Volume24hr:   nonNegative(float64(pm.Volume24hr)),
			Liquidity:    nonNegative(float64(pm.Liquidity)),
			OpenInterest: nonNegative(float64(pm.OpenInterest)),
			Active:       pm.Active,
			Closed:       pm.Closed,
			UpdatedAt:    now,
		})
	}
	return markets
}

// rawTokenIDs unwraps a JSON string so the stored value is the list text itself.
func rawTokenIDs(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.doRequest(ctx, c.apiBaseURL+path+"?"+query.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if werr := c.backoff(ctx, i); werr != nil {
				return nil, werr
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if werr := c.backoff(ctx, i); werr != nil {
				return nil, werr
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * c.retryDelayBase
	if delay <= 0 {
		return nil
	}
	logger.Debug("Retrying gamma request in %v (attempt %d)", delay, attempt+1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
