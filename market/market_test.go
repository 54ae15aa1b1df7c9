package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/eod/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "secret", r.URL.Query().Get("api_token"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		switch r.URL.Path {
		case "/eod/AAPL.US":
			fmt.Fprint(w, `[{"date":"2024-01-02","open":185.1,"high":186,"low":183.9,"close":185.64,"adjusted_close":185.1,"volume":100},
				{"date":"2024-01-03","open":184.2,"high":185.8,"low":183.4,"close":184.25,"adjusted_close":183.7,"volume":90}]`)
		case "/eod/EMPTY.US":
			fmt.Fprint(w, `[]`)
		default:
			http.Error(w, "Ticker Not Found.", http.StatusNotFound)
		}
	})
	mux.HandleFunc("/real-time/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"AAPL.US","timestamp":1704300000,"close":186.5,"previousClose":184.25}`)
	})
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL.US", r.URL.Query().Get("s"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"date":"2024-01-03T12:00:00+00:00","title":" Apple beats ","content":"Strong quarter","link":"https://example.com/a"},
			{"date":"2024-01-02","title":"Apple slips","content":"","link":"https://example.com/b"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEODHDPriceHistory(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewEODHDClient("secret", WithBaseURL(srv.URL), WithRateLimit(100))

	points, err := c.FetchPriceHistory(context.Background(), "aapl", time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "184.25", points[1].Close.String())
	assert.Equal(t, 2024, points[0].Date.Year())
}

func TestEODHDAPIError(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewEODHDClient("secret", WithBaseURL(srv.URL))

	_, err := c.FetchPriceHistory(context.Background(), "ZZZZ", time.Now(), time.Now())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "/eod/ZZZZ.US", apiErr.Endpoint)
}

func TestEODHDLivePriceAndNews(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewEODHDClient("secret", WithBaseURL(srv.URL))

	price, err := c.FetchLivePrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 186.5, price, 1e-9)

	news, err := c.FetchNews(context.Background(), "aapl", 2)
	require.NoError(t, err)
	require.Len(t, news, 2)
	assert.Equal(t, "AAPL", news[0].Ticker)
	assert.Equal(t, "Apple beats", news[0].Title)
	assert.False(t, news[0].PublishedAt.IsZero())
	assert.False(t, news[1].PublishedAt.IsZero())
}

func TestSymbolKeepsExplicitExchange(t *testing.T) {
	c := NewEODHDClient("k", WithExchange("LSE"))
	assert.Equal(t, "VOD.LSE", c.symbol("vod"))
	assert.Equal(t, "BMW.XETRA", c.symbol("BMW.XETRA"))
}

func TestCachedProviderMemoizes(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	p := NewCachedProvider(NewEODHDClient("secret", WithBaseURL(srv.URL)), time.Minute)

	start, end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	for range 3 {
		_, err := p.FetchPriceHistory(context.Background(), "AAPL", start, end)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	p.Flush()
	_, err := p.FetchPriceHistory(context.Background(), "AAPL", start, end)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSummarizeSoftFailures(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	p := NewEODHDClient("secret", WithBaseURL(srv.URL))

	res := Summarize(context.Background(), p, []string{"AAPL", "ZZZZ", "EMPTY"}, SummaryOptions{Workers: 2})
	require.Len(t, res, 3)

	require.NotNil(t, res["AAPL"].RecentClose)
	assert.InDelta(t, 184.25, *res["AAPL"].RecentClose, 1e-9)
	assert.Equal(t, 2, res["AAPL"].DataPoints)
	assert.Contains(t, res["ZZZZ"].Error, "404")
	assert.Empty(t, res["EMPTY"].Error)
	assert.Nil(t, res["EMPTY"].RecentClose)
	assert.Equal(t, 0, res["EMPTY"].DataPoints)
}

func TestTickerSummaryJSON(t *testing.T) {
	last := 12.5
	ok, err := json.Marshal(TickerSummary{RecentClose: &last, DataPoints: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"recent_close":12.5,"data_points":3}`, string(ok))

	failed, err := json.Marshal(TickerSummary{Error: "boom", DataPoints: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, string(failed))
	assert.False(t, strings.Contains(string(failed), "data_points"))

	empty, err := json.Marshal(TickerSummary{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"recent_close":null,"data_points":0}`, string(empty))
}
