package market

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/phuslu/log"
)

// CachedProvider memoizes price history and news for ttl. Live prices are
// cached for a short fixed window.
type CachedProvider struct {
	next  Provider
	cache *cache.Cache
	ttl   time.Duration
}

const livePriceTTL = 30 * time.Second

func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedProvider{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (p *CachedProvider) FetchPriceHistory(ctx context.Context, ticker string, start, end time.Time) ([]PricePoint, error) {
	key := fmt.Sprintf("eod:%s:%s:%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if v, ok := p.cache.Get(key); ok {
		log.Debug().Str("ticker", ticker).Msg("Price history cache hit")
		return v.([]PricePoint), nil
	}
	points, err := p.next.FetchPriceHistory(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, points, cache.DefaultExpiration)
	return points, nil
}

func (p *CachedProvider) FetchLivePrice(ctx context.Context, ticker string) (float64, error) {
	key := "live:" + ticker
	if v, ok := p.cache.Get(key); ok {
		return v.(float64), nil
	}
	price, err := p.next.FetchLivePrice(ctx, ticker)
	if err != nil {
		return 0, err
	}
	p.cache.Set(key, price, livePriceTTL)
	return price, nil
}

func (p *CachedProvider) FetchNews(ctx context.Context, ticker string, limit int) ([]NewsItem, error) {
	key := fmt.Sprintf("news:%s:%d", ticker, limit)
	if v, ok := p.cache.Get(key); ok {
		return v.([]NewsItem), nil
	}
	items, err := p.next.FetchNews(ctx, ticker, limit)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, items, cache.DefaultExpiration)
	return items, nil
}

// Flush drops every cached entry
func (p *CachedProvider) Flush() {
	p.cache.Flush()
}
