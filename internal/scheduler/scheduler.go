// Package scheduler runs recurring jobs on cron specs in a given timezone and
// guards them with store-backed leases so only one instance runs a job class.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// Handler is one invocation of a scheduled job.
type Handler func(ctx context.Context)

// Scheduler registers recurring triggers. Jobs own their error handling; a
// handler never reports failure back to the scheduler.
type Scheduler interface {
	Schedule(name, spec, timezone string, handler Handler) error
}

// CronScheduler: Scheduler поверх robfig/cron
type CronScheduler struct {
	cron   *cron.Cron
	logger *utils.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

func NewCronScheduler(logger *utils.Logger) *CronScheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule adds a job. Standard five-field specs are evaluated in timezone.
func (s *CronScheduler) Schedule(name, spec, timezone string, handler Handler) error {
	full, err := withTimezone(spec, timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: job %s already scheduled", domain.ErrConfiguration, name)
	}
	id, err := s.cron.AddFunc(full, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		handler(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: job %s: invalid schedule %q: %v", domain.ErrConfiguration, name, spec, err)
	}
	s.entries[name] = id

	next, _ := NextRun(spec, timezone, time.Now())
	s.logger.Info("⏰ Scheduled %s: %q (%s), next run %s", name, spec, timezone, next.UTC().Format(time.RFC3339))
	return nil
}

// Start begins firing triggers; ctx is handed to every handler.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("🚀 Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop prevents new runs, cancels the handler context and waits for
// running jobs to return.
func (s *CronScheduler) Stop() {
	done := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-done.Done()
	s.logger.Info("✅ Scheduler stopped")
}

// Jobs returns the registered job names.
func (s *CronScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

// NextRun returns the first trigger time of spec in timezone strictly after t.
func NextRun(spec, timezone string, after time.Time) (time.Time, error) {
	full, err := withTimezone(spec, timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(full)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid schedule %q: %v", domain.ErrConfiguration, spec, err)
	}
	return sched.Next(after), nil
}

func withTimezone(spec, timezone string) (string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", fmt.Errorf("%w: empty schedule", domain.ErrConfiguration)
	}
	if strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") || timezone == "" {
		return spec, nil
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", fmt.Errorf("%w: invalid timezone %q: %v", domain.ErrConfiguration, timezone, err)
	}
	return "CRON_TZ=" + timezone + " " + spec, nil
}

// cronLogger adapts utils.Logger to cron.Logger.
type cronLogger struct {
	logger *utils.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("❌ cron: %s: %v %v", msg, err, keysAndValues)
}
