package migration

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/storage"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// ErrMigrationRunning is returned when a migration is requested while another runs.
var ErrMigrationRunning = apperrors.New("MIGRATION_RUNNING", "A migration is already running", http.StatusConflict)

// Job is the observable state of one background migration.
type Job struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Options     Options   `json:"options"`
	Progress    Progress  `json:"progress"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// Runner runs at most one migration at a time in the background and fans
// progress out to subscribers.
type Runner struct {
	engine *Engine
	stores *storage.Selector
	log    *zap.Logger

	mu          sync.Mutex
	current     *Job
	running     bool
	subscribers map[chan Job]struct{}
	wg          sync.WaitGroup
}

// NewRunner builds a runner resolving providers through stores.
func NewRunner(engine *Engine, stores *storage.Selector) *Runner {
	return &Runner{
		engine:      engine,
		stores:      stores,
		log:         engine.log,
		subscribers: map[chan Job]struct{}{},
	}
}

// Start launches a migration between two provider names and returns its job.
func (r *Runner) Start(ctx context.Context, sourceProvider, destinationProvider string, opts Options) (Job, error) {
	source, err := r.stores.Store(sourceProvider)
	if err != nil {
		return Job{}, err
	}
	destination, err := r.stores.Store(destinationProvider)
	if err != nil {
		return Job{}, err
	}
	if err := checkStores(source, destination, opts.DryRun); err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Job{}, ErrMigrationRunning
	}
	job := &Job{
		ID:          uuid.NewString(),
		Source:      source.Provider(),
		Destination: destination.Provider(),
		Options:     opts,
		StartedAt:   time.Now(),
	}
	r.current = job
	r.running = true
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		final, err := r.engine.MigrateAll(runCtx, source, destination, opts, r.publish)
		r.finish(final, err)
	}()
	return *job, nil
}

// Current returns the latest or last finished job.
func (r *Runner) Current() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Job{}, false
	}
	return *r.current, true
}

// Running reports whether a migration is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Subscribe returns a channel receiving job snapshots. Slow subscribers miss
// intermediate snapshots rather than blocking the migration, but always see
// the most recent one.
func (r *Runner) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, 16)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	current := r.current
	r.mu.Unlock()

	if current != nil {
		ch <- *current
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, ch)
			r.mu.Unlock()
		})
	}
}

// Wait blocks until the running migration finishes.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) publish(progress Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.current.Progress = progress
	r.broadcastLocked()
}

func (r *Runner) finish(progress Progress, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if r.current == nil {
		return
	}
	r.current.Progress = progress
	r.current.FinishedAt = time.Now()
	if err != nil {
		r.current.Error = err.Error()
		r.log.Error("migration aborted", zap.String("job_id", r.current.ID), zap.Error(err))
	}
	r.broadcastLocked()
}

func (r *Runner) broadcastLocked() {
	snapshot := *r.current
	for ch := range r.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drop the oldest snapshot so the latest state always arrives.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
