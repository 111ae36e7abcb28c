// Package scheduler runs one polling job per device at its own interval on
// a bounded worker pool.
//
// Each device gets a cron entry with a fixed-interval schedule whose first
// run is delayed by a random jitter, spreading devices with the same
// interval over the period. A tick that arrives while the device's previous
// run is still in progress, including one still waiting for a pool slot, is
// skipped and counted rather than queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/golangsnmp/snmpcollect/internal/types"
)

// Job is one poll of one device.
type Job func(ctx context.Context)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = types.Component(l, "scheduler") }
}

// WithJitter caps the random delay of each device's first run. Zero
// disables jitter; by default the cap is the device's interval.
func WithJitter(max time.Duration) Option {
	return func(s *Scheduler) { s.maxJitter = max }
}

// WithSkipHook registers a function called with the device name whenever a
// tick is skipped.
func WithSkipHook(fn func(name string)) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

// Scheduler drives polling jobs.
type Scheduler struct {
	cron      *cron.Cron
	pool      *semaphore.Weighted
	workers   int
	maxJitter time.Duration // negative: use the interval
	log       types.Logger
	onSkip    func(string)

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
}

type entry struct {
	id      cron.EntryID
	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
}

// New returns a scheduler running at most workers jobs at once.
func New(workers int, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		pool:      semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		maxJitter: -1,
		ctx:       context.Background(),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	return s
}

// Add registers job for the named device, run every interval.
func (s *Scheduler) Add(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("device %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("device %q: already scheduled", name)
	}
	e := &entry{}
	sched := &everySchedule{interval: interval, jitter: s.jitterFor(interval)}
	e.id = s.cron.Schedule(sched, s.wrap(name, e, job))
	s.entries[name] = e
	s.log.Debug("device scheduled",
		slog.String("device", name),
		slog.Duration("interval", interval),
		slog.Duration("first_run_in", sched.jitter))
	return nil
}

// jitterFor draws the first-run delay for a device.
func (s *Scheduler) jitterFor(interval time.Duration) time.Duration {
	limit := interval
	if s.maxJitter >= 0 {
		limit = min(limit, s.maxJitter)
	}
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// wrap applies the skip-if-running rule and the pool bound to job.
func (s *Scheduler) wrap(name string, e *entry, job Job) cron.Job {
	return cron.FuncJob(func() {
		if !e.running.CompareAndSwap(false, true) {
			e.skipped.Add(1)
			s.log.Warn("previous poll still running, skipping",
				slog.String("device", name),
				slog.Uint64("skipped", e.skipped.Load()))
			if s.onSkip != nil {
				s.onSkip(name)
			}
			return
		}
		defer e.running.Store(false)

		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := s.pool.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.pool.Release(1)
		e.runs.Add(1)
		job(ctx)
	})
}

// Start begins ticking. Jobs receive ctx; cancelling it aborts running
// polls and those waiting for a pool slot.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.entries)
	s.mu.Unlock()
	s.log.Info("scheduler started", slog.Int("devices", n), slog.Int("workers", s.workers))
	s.cron.Start()
}

// Stop stops ticking and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Skipped returns how many ticks of the named device were skipped.
func (s *Scheduler) Skipped(name string) uint64 {
	s.mu.Lock()
	e := s.entries[name]
	s.mu.Unlock()
	if e == nil {
		return 0
	}
	return e.skipped.Load()
}

// Runs returns how many times the named device's job has started.
func (s *Scheduler) Runs(name string) uint64 {
	s.mu.Lock()
	e := s.entries[name]
	s.mu.Unlock()
	if e == nil {
		return 0
	}
	return e.runs.Load()
}

// everySchedule fires first at start+jitter and then every interval,
// keeping to the original phase. Ticks that fall in the past (the process
// was suspended, or a run overran) are not replayed.
type everySchedule struct {
	interval time.Duration
	jitter   time.Duration
	next     time.Time
}

func (s *everySchedule) Next(t time.Time) time.Time {
	if s.next.IsZero() {
		s.next = t.Add(s.jitter)
		return s.next
	}
	s.next = s.next.Add(s.interval)
	if !s.next.After(t) {
		behind := t.Sub(s.next)/s.interval + 1
		s.next = s.next.Add(behind * s.interval)
	}
	return s.next
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	log types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.log.Enabled(types.LevelTrace) {
		l.log.L.Log(context.Background(), types.LevelTrace, "cron: "+msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.log.L == nil {
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	l.log.L.Log(context.Background(), slog.LevelError, "cron: "+msg,
		append(keysAndValues, "error", err)...)
}
