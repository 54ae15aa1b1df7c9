package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10
	DefaultExchange  = "US"
)

// ErrNoData is returned when the provider has no price for a ticker
var ErrNoData = errors.New("no data returned")

// APIError represents a non-200 answer from the EODHD API
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// EODHDClient implements Provider against eodhd.com
type EODHDClient struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*EODHDClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *EODHDClient) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *EODHDClient) { c.httpClient = httpClient }
}

// WithRateLimit sets requests per second
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *EODHDClient) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithExchange sets the exchange suffix appended to bare tickers
func WithExchange(exchange string) ClientOption {
	return func(c *EODHDClient) {
		if exchange != "" {
			c.exchange = exchange
		}
	}
}

// NewEODHDClient creates a new client
func NewEODHDClient(apiKey string, opts ...ClientOption) *EODHDClient {
	c := &EODHDClient{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		exchange:   DefaultExchange,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// symbol turns AAPL into AAPL.US; tickers that already carry an exchange are kept
func (c *EODHDClient) symbol(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if strings.Contains(t, ".") {
		return t
	}
	return t + "." + c.exchange
}

func (c *EODHDClient) get(ctx context.Context, path string, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	log.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// FetchPriceHistory returns daily bars in ascending date order, bounds included
func (c *EODHDClient) FetchPriceHistory(ctx context.Context, ticker string, start, end time.Time) ([]PricePoint, error) {
	params := url.Values{}
	params.Set("from", start.Format("2006-01-02"))
	params.Set("to", end.Format("2006-01-02"))
	params.Set("period", "d")
	params.Set("order", "a")

	var points []PricePoint
	if err := c.get(ctx, "/eod/"+c.symbol(ticker), params, &points); err != nil {
		return nil, err
	}
	for i := range points {
		if t, err := time.Parse("2006-01-02", points[i].DateStr); err == nil {
			points[i].Date = t
		}
	}
	return points, nil
}

type realTimeQuote struct {
	Code          string          `json:"code"`
	Timestamp     int64           `json:"timestamp"`
	Close         decimal.Decimal `json:"close"`
	PreviousClose decimal.Decimal `json:"previousClose"`
}

// FetchLivePrice returns the latest traded price
func (c *EODHDClient) FetchLivePrice(ctx context.Context, ticker string) (float64, error) {
	var q realTimeQuote
	if err := c.get(ctx, "/real-time/"+c.symbol(ticker), nil, &q); err != nil {
		return 0, err
	}
	price := q.Close
	if price.IsZero() {
		price = q.PreviousClose
	}
	if price.IsZero() {
		return 0, fmt.Errorf("live price for %s: %w", ticker, ErrNoData)
	}
	return price.InexactFloat64(), nil
}

type newsItem struct {
	DateStr string   `json:"date"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Link    string   `json:"link"`
	Symbols []string `json:"symbols"`
}

// FetchNews returns up to limit recent articles tagged with the ticker
func (c *EODHDClient) FetchNews(ctx context.Context, ticker string, limit int) ([]NewsItem, error) {
	params := url.Values{}
	params.Set("s", c.symbol(ticker))
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var raw []newsItem
	if err := c.get(ctx, "/news", params, &raw); err != nil {
		return nil, err
	}

	out := make([]NewsItem, 0, len(raw))
	for _, r := range raw {
		item := NewsItem{
			Ticker:  strings.ToUpper(ticker),
			Title:   strings.TrimSpace(r.Title),
			Content: strings.TrimSpace(r.Content),
			Link:    r.Link,
		}
		if t, err := time.Parse("2006-01-02T15:04:05-07:00", r.DateStr); err == nil {
			item.PublishedAt = t
		} else if t, err := time.Parse("2006-01-02 15:04:05", r.DateStr); err == nil {
			item.PublishedAt = t
		} else if t, err := time.Parse("2006-01-02", r.DateStr); err == nil {
			item.PublishedAt = t
		}
		out = append(out, item)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
