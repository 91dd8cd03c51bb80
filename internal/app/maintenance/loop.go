package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/pkg/logger"
)

// Job is one pass of a background loop. Item-level failures should be
// counted inside the job; a returned error marks the whole pass as failed.
type Job func(ctx context.Context) error

// Loop runs a Job on a fixed interval using cron. Passes never overlap.
type Loop struct {
	name string
	job  Job
	cron *cron.Cron
	log  *zap.Logger

	runImmediately bool

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
	// inline tracks the immediate pass of the current run only.
	inline  *sync.WaitGroup
}

// Option customises a Loop.
type Option func(*Loop)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(loop *Loop) {
		if c != nil {
			loop.cron = c
		}
	}
}

// WithLogger overrides the loop logger.
func WithLogger(log *zap.Logger) Option {
	return func(loop *Loop) {
		if log != nil {
			loop.log = log
		}
	}
}

// WithoutImmediateRun waits for the first tick instead of running a pass on Start.
func WithoutImmediateRun() Option {
	return func(loop *Loop) {
		loop.runImmediately = false
	}
}

// NewLoop constructs a stopped loop named name.
func NewLoop(name string, job Job, opts ...Option) *Loop {
	loop := &Loop{
		name:           name,
		job:            job,
		log:            logger.WithModule("maintenance").With(zap.String("job", name)),
		runImmediately: true,
	}
	for _, opt := range opts {
		opt(loop)
	}
	if loop.cron == nil {
		loop.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return loop
}

// Start schedules the job every interval. Calling Start on a running loop is a no-op.
func (l *Loop) Start(interval time.Duration) error {
	if l.job == nil {
		return errors.New("maintenance: job is required")
	}
	if interval <= 0 {
		return fmt.Errorf("maintenance: %s interval must be positive, got %s", l.name, interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(l.pass))
	entry, err := l.cron.AddJob(fmt.Sprintf("@every %s", interval), wrapped)
	if err != nil {
		return fmt.Errorf("maintenance: schedule %s: %w", l.name, err)
	}
	l.entry = entry
	l.running = true
	l.cron.Start()

	inline := &sync.WaitGroup{}
	l.inline = inline
	if l.runImmediately {
		inline.Add(1)
		go func() {
			defer inline.Done()
			wrapped.Run()
		}()
	}

	l.log.Info("background loop started", zap.Duration("interval", interval))
	return nil
}

// Stop unschedules the loop. The returned context is done once any pass in
// progress has finished; a running pass is not interrupted.
func (l *Loop) Stop() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return context.Background()
	}
	l.running = false
	l.cron.Remove(l.entry)
	cronDone := l.cron.Stop()
	inline := l.inline
	l.inline = nil

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		if inline != nil {
			inline.Wait()
		}
		cancel()
	}()

	l.log.Info("background loop stopped")
	return ctx
}

// Running reports whether the loop is scheduled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// RunOnce executes a single pass synchronously.
func (l *Loop) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.execute(ctx)
}

func (l *Loop) pass() {
	_ = l.execute(context.Background())
}

func (l *Loop) execute(ctx context.Context) error {
	start := time.Now()
	err := l.job(ctx)
	duration := time.Since(start)

	if err != nil {
		monitoring.RecordMaintenanceRun(l.name, "failure", err.Error(), duration)
		l.log.Warn("background pass failed", zap.Duration("duration", duration), zap.Error(err))
		return err
	}
	monitoring.RecordMaintenanceRun(l.name, "success", "", duration)
	return nil
}
