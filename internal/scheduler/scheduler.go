// Package scheduler implements the cron-like job driver described in
// §4.8: one ticker per cadence, context-cancelable, with atomic
// single-flight guards for long-running jobs. Grounded directly on the
// teacher's own concurrency idiom — scanner.BlockScanner's
// atomic.Bool/atomic.Int64 progress guards and mempool.Poller's
// time.Ticker main loop — since no task-queue library evidenced
// anywhere in the retrieved examples with real usage code.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. Errors are logged, never panicked.
type Job func(ctx context.Context) error

// entry pairs a Job with its cadence and an optional single-flight
// guard shared with other entries (e.g. votes_in_flight).
type entry struct {
	name       string
	interval   time.Duration
	atHour     int // -1 means "every interval", otherwise run once per day/week at this UTC hour
	atWeekday  time.Weekday
	useWeekday bool
	job        Job
	running    atomic.Bool
	lastFired  time.Time // UTC date this entry last ran, zero until the first fire
}

// Scheduler owns a set of ticking job entries and runs them until its
// context is canceled.
type Scheduler struct {
	entries []*entry
	log     *zap.SugaredLogger
}

// New builds an empty Scheduler.
func New(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{log: log.Named("scheduler")}
}

// Every registers job to run every interval, independent of wall-clock
// alignment (e.g. "ingest" at every 5 min).
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.entries = append(s.entries, &entry{name: name, interval: interval, atHour: -1, job: job})
}

// DailyAt registers job to run once per UTC day at hour.
func (s *Scheduler) DailyAt(name string, hour int, job Job) {
	s.entries = append(s.entries, &entry{name: name, atHour: hour, job: job})
}

// WeeklyAt registers job to run once per week on weekday at hour UTC.
func (s *Scheduler) WeeklyAt(name string, weekday time.Weekday, hour int, job Job) {
	s.entries = append(s.entries, &entry{name: name, atHour: hour, atWeekday: weekday, useWeekday: true, job: job})
}

// Run starts every registered entry on its own goroutine and blocks
// until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for _, e := range s.entries {
		go s.driveEntry(ctx, e)
	}
	<-ctx.Done()
	s.log.Info("scheduler stopping")
}

func (s *Scheduler) driveEntry(ctx context.Context, e *entry) {
	interval := e.interval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			now := tick.UTC()
			if !e.dueNow(now) {
				continue
			}
			e.lastFired = now
			s.fire(ctx, e)
		}
	}
}

// dueNow reports whether e should fire at now. Every-interval entries
// are always due. Daily/weekly entries are due only on their matching
// hour (and weekday) AND only once per calendar day — without the
// lastFired check, a 1-minute-resolution ticker would re-fire the
// entry on every tick throughout the whole matching hour.
func (e *entry) dueNow(now time.Time) bool {
	if e.atHour < 0 {
		return true
	}
	if now.Hour() != e.atHour {
		return false
	}
	if e.useWeekday && now.Weekday() != e.atWeekday {
		return false
	}
	return !sameUTCDate(e.lastFired, now)
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// fire runs e.job if it is not already running (single-flight per
// entry), tagging the run with a correlation id the way scanner.go
// tags its progress logs.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Infow("skipping tick, previous run still in flight", "job", e.name)
		return
	}
	defer e.running.Store(false)

	runID := uuid.New().String()
	log := s.log.With("job", e.name, "run_id", runID)
	log.Info("job starting")
	start := time.Now()
	if err := e.job(ctx); err != nil {
		log.Errorw("job failed", "error", err, "elapsed", time.Since(start))
		return
	}
	log.Infow("job finished", "elapsed", time.Since(start))
}
