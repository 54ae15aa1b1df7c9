package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs ingestion at minute 0 of every sixth hour
const DefaultSchedule = "0 */6 * * *"

// Scheduler runs the ingestor for a fixed ticker list on a cron schedule
type Scheduler struct {
	ingestor *Ingestor
	tickers  func() []string
	cron     *cron.Cron
	timeout  time.Duration

	// prevents overlapping runs when one takes longer than the interval
	running sync.Mutex
	onRun   func(Report)
}

// NewScheduler creates a scheduler. tickers is evaluated on every run.
func NewScheduler(ingestor *Ingestor, tickers func() []string) *Scheduler {
	return &Scheduler{
		ingestor: ingestor,
		tickers:  tickers,
		cron:     cron.New(),
		timeout:  30 * time.Minute,
	}
}

// OnRun registers a callback receiving each run's report
func (s *Scheduler) OnRun(fn func(Report)) {
	s.onRun = fn
}

// Start begins scheduled ingestion
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", schedule).Msg("News ingestion scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("News ingestion scheduler stopped")
}

// RunNow triggers an immediate run in the background
func (s *Scheduler) RunNow() {
	go s.runScheduled()
}

func (s *Scheduler) runScheduled() {
	if !s.running.TryLock() {
		log.Warn().Msg("Previous ingestion still running, skipping")
		return
	}
	defer s.running.Unlock()

	tickers := s.tickers()
	if len(tickers) == 0 {
		log.Debug().Msg("No tickers to ingest")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	report := s.ingestor.Run(ctx, tickers)
	if s.onRun != nil {
		s.onRun(report)
	}
}
