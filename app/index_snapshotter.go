package app

import (
	"sync"
	"time"

	"github.com/phuslu/log"
)

// sizedIndex is the part of the vector store the snapshotter watches
type sizedIndex interface {
	Len() int
}

// IndexSnapshotter periodically persists the vector index when documents were added
// since the last save. Saving goes through persist so it shares the writer lock.
type IndexSnapshotter struct {
	index   sizedIndex
	persist func() error
	every   time.Duration

	mu    sync.Mutex
	saved int

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewIndexSnapshotter creates a snapshotter. saved is the document count already on disk.
func NewIndexSnapshotter(index sizedIndex, persist func() error, every time.Duration, saved int) *IndexSnapshotter {
	if every <= 0 {
		every = 10 * time.Minute
	}
	return &IndexSnapshotter{
		index:   index,
		persist: persist,
		every:   every,
		saved:   saved,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the snapshot loop
func (s *IndexSnapshotter) Start() {
	defer close(s.stopped)
	log.Info().Dur("every", s.every).Msg("Index snapshotter started")

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Snapshot()
		case <-s.done:
			log.Info().Msg("Index snapshotter stopped")
			return
		}
	}
}

// Stop ends the loop and writes a final snapshot
func (s *IndexSnapshotter) Stop() {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
		s.Snapshot()
	})
}

// Snapshot saves the index if it grew. It reports whether a save happened.
func (s *IndexSnapshotter) Snapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.index.Len()
	if n == s.saved {
		return false
	}
	if err := s.persist(); err != nil {
		log.Error().Err(err).Int("documents", n).Msg("Failed to snapshot vector index")
		return false
	}
	s.saved = n
	log.Info().Int("documents", n).Msg("Vector index snapshot saved")
	return true
}
