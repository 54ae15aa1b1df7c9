package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoContent means the page had no extractable article text
var ErrNoContent = errors.New("failed to retrieve content")

const (
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	maxPageBytes    = 4 << 20
	minArticleChars = 80
)

// ExtractArticleText pulls readable paragraph text out of an HTML page
func ExtractArticleText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	scope := doc.Find("article").First()
	if scope.Length() == 0 {
		scope = doc.Find("main").First()
	}
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	var paragraphs []string
	scope.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	content := strings.Join(paragraphs, "\n")
	if len(content) < minArticleChars {
		return "", ErrNoContent
	}
	return content, nil
}

// PageFetcher downloads article pages
type PageFetcher struct {
	client *http.Client
}

func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PageFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch returns the article text behind link
func (f *PageFetcher) Fetch(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", ErrNoContent
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d: %w", link, resp.StatusCode, ErrNoContent)
	}
	return ExtractArticleText(io.LimitReader(resp.Body, maxPageBytes))
}
