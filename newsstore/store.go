package newsstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phuslu/log"
	"github.com/timshannon/badgerhold/v4"
)

// ErrNotFound is returned when an article id is not archived
var ErrNotFound = errors.New("article not found")

// Article is an archived news document
type Article struct {
	ID          string
	Ticker      string `badgerhold:"index"`
	Title       string
	Content     string
	Link        string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// Store archives fetched articles on disk
type Store struct {
	db *badgerhold.Store
}

// Open opens or creates the archive at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	opts := badgerhold.DefaultOptions
	opts.Options = badger.DefaultOptions(path).WithLogger(nil)

	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open article archive: %w", err)
	}
	log.Debug().Str("path", path).Msg("Article archive opened")
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway archive
func OpenInMemory() (*Store, error) {
	opts := badgerhold.DefaultOptions
	opts.Options = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory archive: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts an article
func (s *Store) Save(a *Article) error {
	if a.ID == "" {
		return fmt.Errorf("article ID is required")
	}
	a.Ticker = strings.ToUpper(a.Ticker)
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now().UTC()
	}
	if err := s.db.Upsert(a.ID, a); err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	return nil
}

// Get returns one article by id
func (s *Store) Get(id string) (*Article, error) {
	var a Article
	if err := s.db.Get(id, &a); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &a, nil
}

// Exists reports whether id is archived
func (s *Store) Exists(id string) (bool, error) {
	_, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ByTicker returns the newest articles for a ticker, limit <= 0 means all
func (s *Store) ByTicker(ticker string, limit int) ([]Article, error) {
	q := badgerhold.Where("Ticker").Eq(strings.ToUpper(ticker)).SortBy("PublishedAt").Reverse()
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Article
	if err := s.db.Find(&out, q); err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	return out, nil
}

// Count returns the number of archived articles
func (s *Store) Count() (int, error) {
	n, err := s.db.Count(&Article{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return int(n), nil
}
