// Package jobs implements the scheduled maintenance engine: nightly
// consolidation, weekly decay and archival, and monthly re-indexing.
//
// Each job is idempotent and independently runnable. The Runner enforces
// at-most-one-concurrent-instance per job type; different job types may
// overlap with each other and with live retrieval traffic.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a job of the same type is in flight.
var ErrAlreadyRunning = errors.New("job already running")

// Report summarizes one job run. Individual item errors are logged and
// counted, never fatal to the run.
type Report struct {
	Job        string         `json:"job"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Processed  int            `json:"processed"`
	Errored    int            `json:"errored"`
	Details    map[string]int `json:"details,omitempty"`
}

func newReport(job string) *Report {
	return &Report{Job: job, StartedAt: time.Now().UTC(), Details: make(map[string]int)}
}

func (r *Report) finish() *Report {
	r.FinishedAt = time.Now().UTC()
	return r
}

// Job is one schedulable maintenance task.
type Job interface {
	// Name identifies the job type for exclusivity and scheduling.
	Name() string

	// Run executes the job. Partial failures are reported, not returned;
	// an error means the run could not proceed at all.
	Run(ctx context.Context) (*Report, error)
}

// Runner dispatches jobs by name with per-type exclusivity.
type Runner struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]bool
}

// NewRunner creates a Runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:  logger,
		jobs:    make(map[string]Job),
		running: make(map[string]bool),
	}
}

// Register adds a job. Registering a second job with the same name replaces
// the first.
func (r *Runner) Register(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.Name()] = j
}

// Names returns the registered job names.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	return names
}

// Run executes the named job, failing fast with ErrAlreadyRunning when an
// instance of the same type is still in flight.
func (r *Runner) Run(ctx context.Context, name string) (*Report, error) {
	r.mu.Lock()
	j, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown job %q", name)
	}
	if r.running[name] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	r.running[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running[name] = false
		r.mu.Unlock()
	}()

	r.logger.Info("job starting", zap.String("job", name))
	report, err := j.Run(ctx)
	if err != nil {
		r.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		return nil, err
	}
	r.logger.Info("job finished",
		zap.String("job", name),
		zap.Int("processed", report.Processed),
		zap.Int("errored", report.Errored),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}
