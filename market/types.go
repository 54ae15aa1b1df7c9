package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one end-of-day bar
type PricePoint struct {
	Date          time.Time       `json:"-"`
	DateStr       string          `json:"date"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	AdjustedClose decimal.Decimal `json:"adjusted_close"`
	Volume        int64           `json:"volume"`
}

// NewsItem is a headline returned by the provider. Content may be a short
// summary; the ingester replaces it with the article body when the link resolves.
type NewsItem struct {
	Ticker      string    `json:"ticker"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}

// Provider fetches prices and news for a ticker
type Provider interface {
	FetchPriceHistory(ctx context.Context, ticker string, start, end time.Time) ([]PricePoint, error)
	FetchLivePrice(ctx context.Context, ticker string) (float64, error)
	FetchNews(ctx context.Context, ticker string, limit int) ([]NewsItem, error)
}
