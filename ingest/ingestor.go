package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"trade-insight/embedding"
	"trade-insight/market"
	"trade-insight/newsstore"
	"trade-insight/vectorstore"
)

// ErrNoNewsProvider is reported per ticker when ingestion runs without a market provider
var ErrNoNewsProvider = errors.New("news provider not configured")

const (
	DefaultNewsPerTicker = 5
	DefaultWorkers       = 5
)

// Index is the write side of the vector store
type Index interface {
	Add(embedding []float32, meta vectorstore.Metadata) (int, error)
	Save(path string) error
}

// ContentFetcher resolves an article link to its body text
type ContentFetcher interface {
	Fetch(ctx context.Context, link string) (string, error)
}

// Document is one item to embed and index
type Document struct {
	ID          string
	Ticker      string
	Title       string
	Content     string
	Link        string
	PublishedAt time.Time
}

// Text is what gets embedded
func (d Document) Text() string {
	return d.Title + "\n\n" + d.Content
}

// Metadata is what the vector store keeps next to the embedding
func (d Document) Metadata() vectorstore.Metadata {
	meta := vectorstore.Metadata{
		"id":      d.ID,
		"ticker":  d.Ticker,
		"title":   d.Title,
		"content": d.Content,
		"link":    d.Link,
	}
	if !d.PublishedAt.IsZero() {
		meta["published_at"] = d.PublishedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

// DocumentID is stable per link so re-ingesting a known article is a no-op
func DocumentID(ticker, link, title string) string {
	key := link
	if key == "" {
		key = strings.ToUpper(ticker) + "|" + title
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Report summarizes one ingestion run
type Report struct {
	Tickers    int               `json:"tickers"`
	Fetched    int               `json:"fetched"`
	Indexed    int               `json:"indexed"`
	Duplicates int               `json:"duplicates"`
	Skipped    int               `json:"skipped"`
	Errors     map[string]string `json:"errors,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Ingestor fetches news per ticker, archives it and adds it to the vector index
type Ingestor struct {
	provider  market.Provider
	fetcher   ContentFetcher
	embedder  embedding.Embedder
	index     Index
	archive   *newsstore.Store
	indexPath string
	perTicker int
	workers   int

	// Add and Save on the index are serialized here so one run writes as a unit
	mu sync.Mutex
}

// Options configures an Ingestor
type Options struct {
	IndexPath     string
	NewsPerTicker int
	Workers       int
}

func NewIngestor(provider market.Provider, fetcher ContentFetcher, embedder embedding.Embedder, index Index, archive *newsstore.Store, opts Options) *Ingestor {
	if opts.NewsPerTicker <= 0 {
		opts.NewsPerTicker = DefaultNewsPerTicker
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Ingestor{
		provider:  provider,
		fetcher:   fetcher,
		embedder:  embedder,
		index:     index,
		archive:   archive,
		indexPath: opts.IndexPath,
		perTicker: opts.NewsPerTicker,
		workers:   opts.Workers,
	}
}

// Run ingests news for every ticker with a bounded worker pool, then persists the index once
func (i *Ingestor) Run(ctx context.Context, tickers []string) Report {
	start := time.Now()
	report := Report{Tickers: len(tickers), Errors: map[string]string{}}
	var rmu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for _, ticker := range tickers {
		g.Go(func() error {
			r := i.ingestTicker(gctx, ticker)
			rmu.Lock()
			report.Fetched += r.Fetched
			report.Indexed += r.Indexed
			report.Duplicates += r.Duplicates
			report.Skipped += r.Skipped
			for k, v := range r.Errors {
				report.Errors[k] = v
			}
			rmu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Indexed > 0 && i.indexPath != "" {
		i.mu.Lock()
		err := i.index.Save(i.indexPath)
		i.mu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("path", i.indexPath).Msg("Failed to persist vector index")
			report.Errors["_index"] = err.Error()
		}
	}

	report.Duration = time.Since(start)
	log.Info().
		Int("tickers", report.Tickers).
		Int("fetched", report.Fetched).
		Int("indexed", report.Indexed).
		Int("duplicates", report.Duplicates).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("News ingestion finished")
	return report
}

func (i *Ingestor) ingestTicker(ctx context.Context, ticker string) Report {
	r := Report{Errors: map[string]string{}}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if i.provider == nil {
		r.Errors[ticker] = ErrNoNewsProvider.Error()
		return r
	}

	items, err := i.provider.FetchNews(ctx, ticker, i.perTicker)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("News fetch failed")
		r.Errors[ticker] = err.Error()
		return r
	}
	r.Fetched = len(items)

	for _, item := range items {
		doc := Document{
			ID:          DocumentID(ticker, item.Link, item.Title),
			Ticker:      ticker,
			Title:       item.Title,
			Link:        item.Link,
			PublishedAt: item.PublishedAt,
		}

		if i.archive != nil {
			known, err := i.archive.Exists(doc.ID)
			if err != nil {
				log.Warn().Err(err).Str("id", doc.ID).Msg("Archive lookup failed")
			}
			if known {
				r.Duplicates++
				continue
			}
		}

		content, err := i.resolveContent(ctx, item)
		if err != nil {
			log.Debug().Err(err).Str("ticker", ticker).Str("link", item.Link).Msg("Skipping article without content")
			r.Skipped++
			continue
		}
		doc.Content = content

		if err := i.Index(ctx, doc); err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to index article")
			r.Skipped++
			continue
		}
		r.Indexed++
	}
	return r
}

// resolveContent prefers the fetched article body and falls back to the provider summary
func (i *Ingestor) resolveContent(ctx context.Context, item market.NewsItem) (string, error) {
	if i.fetcher != nil && item.Link != "" {
		content, err := i.fetcher.Fetch(ctx, item.Link)
		if err == nil {
			return content, nil
		}
		if strings.TrimSpace(item.Content) == "" {
			return "", err
		}
	}
	if strings.TrimSpace(item.Content) == "" {
		return "", ErrNoContent
	}
	return item.Content, nil
}

// Index embeds one document, adds it to the vector index and archives it.
// The index is not persisted here; Run saves once at the end.
func (i *Ingestor) Index(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return ErrNoContent
	}
	if doc.ID == "" {
		doc.ID = DocumentID(doc.Ticker, doc.Link, doc.Title)
	}
	vec, err := i.embedder.Embed(ctx, doc.Text())
	if err != nil {
		return err
	}

	i.mu.Lock()
	_, err = i.index.Add(vec, doc.Metadata())
	i.mu.Unlock()
	if err != nil {
		return err
	}

	if i.archive != nil {
		if err := i.archive.Save(&newsstore.Article{
			ID:          doc.ID,
			Ticker:      doc.Ticker,
			Title:       doc.Title,
			Content:     doc.Content,
			Link:        doc.Link,
			PublishedAt: doc.PublishedAt,
		}); err != nil {
			// already searchable; a missing archive entry only costs a later duplicate
			log.Warn().Err(err).Str("id", doc.ID).Msg("Failed to archive article")
		}
	}
	return nil
}

// Persist saves the index to the configured path
func (i *Ingestor) Persist() error {
	if i.indexPath == "" {
		return errors.New("no index path configured")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Save(i.indexPath)
}
