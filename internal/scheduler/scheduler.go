// Package scheduler fires named jobs on 5-field cron schedules and drains
// in-flight work on shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrShuttingDown is returned for work submitted after Shutdown began.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Job is one firing. ctx is cancelled only when the drain timeout expires.
type Job func(ctx context.Context)

// Options configures a Scheduler.
type Options struct {
	Logger   *slog.Logger
	Location *time.Location
	// DrainTimeout bounds how long Shutdown waits for in-flight jobs.
	DrainTimeout time.Duration
}

// Entry describes a registered job.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Scheduler owns cron registrations and tracks every run it dispatches.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	drain  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	entries  map[string]registration
	closed   bool
	drained  bool
	started  bool
	inflight sync.WaitGroup
}

type registration struct {
	id       cron.EntryID
	schedule string
}

// New returns a stopped scheduler.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		drain:   drain,
		baseCtx: ctx,
		cancel:  cancel,
		entries: map[string]registration{},
	}
}

// Validate parses a standard 5-field cron expression.
func Validate(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return errors.New("empty schedule")
	}
	_, err := cron.ParseStandard(schedule)
	return err
}

// Register schedules job under name, replacing any previous registration of
// the same name. An empty or invalid schedule is logged and skipped.
func (s *Scheduler) Register(name, schedule string, job Job) error {
	if err := Validate(schedule); err != nil {
		s.logger.Warn("skip agent registration", "agent", name, "schedule", schedule, "err", err)
		return fmt.Errorf("register %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev.id)
	}
	id, err := s.cron.AddFunc(schedule, s.dispatch(name, job))
	if err != nil {
		s.logger.Warn("skip agent registration", "agent", name, "schedule", schedule, "err", err)
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.entries[name] = registration{id: id, schedule: schedule}
	s.logger.Info("agent registered", "agent", name, "schedule", schedule)
	return nil
}

// Unregister removes name. It reports whether a registration existed.
func (s *Scheduler) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[name]
	if ok {
		s.cron.Remove(reg.id)
		delete(s.entries, name)
	}
	return ok
}

// Clear removes every registration.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, reg := range s.entries {
		s.cron.Remove(reg.id)
		delete(s.entries, name)
	}
}

// Entries lists registrations sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, reg := range s.entries {
		out = append(out, Entry{Name: name, Schedule: reg.schedule, Next: s.cron.Entry(reg.id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins evaluating schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.entries))
}

// Do runs fn synchronously as tracked work, so Shutdown waits for it. It
// returns ErrShuttingDown once Shutdown has begun.
func (s *Scheduler) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.acquire() {
		return ErrShuttingDown
	}
	defer s.inflight.Done()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.baseCtx.Done():
			stop()
		case <-ctx.Done():
		}
	}()
	return fn(ctx)
}

// Stop halts cron firing and rejects new work without waiting for runs
// already in flight. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.started {
		s.cron.Stop()
	}
	s.logger.Info("scheduler stopped firing")
}

// Shutdown stops firing and waits for in-flight jobs. After the drain
// timeout or ctx expiry, running jobs are cancelled and Shutdown returns the
// cause.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	if s.drained {
		s.mu.Unlock()
		return nil
	}
	s.drained = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.drain)
	defer timer.Stop()
	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler drained")
		return nil
	case <-timer.C:
		s.cancel()
		s.logger.Warn("scheduler drain timed out; cancelling in-flight runs", "timeout", s.drain)
		return fmt.Errorf("drain timed out after %s", s.drain)
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Scheduler) dispatch(name string, job Job) func() {
	return func() {
		if !s.acquire() {
			return
		}
		defer s.inflight.Done()
		s.logger.Info("scheduled run", "agent", name)
		job(s.baseCtx)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
