package worker

// runner.go
// Named one-shot tasks triggered by an external scheduler, either over HTTP
// (POST /v1/workers/:task/run) or through `worker run <task>` from cron.
// Each invocation does one bounded pass; nothing loops in-process.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qrtrace/internal/apierror"

	"github.com/rs/zerolog/log"
)

// Outcome is what a single pass reports back. Idle means there was nothing to do.
type Outcome struct {
	Idle   bool `json:"idle"`
	Result any  `json:"result,omitempty"`
}

// Task is one schedulable unit of work.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) (Outcome, error)
}

// Report describes one run as returned to the scheduler.
type Report struct {
	Task       string    `json:"task"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome
}

// Runner holds the registered tasks and refuses overlapping runs of the same
// task inside one process. Cross-process exclusion comes from the claim
// queries the tasks themselves use.
type Runner struct {
	mu      sync.Mutex
	tasks   map[string]Task
	running map[string]bool
}

func NewRunner(tasks ...Task) *Runner {
	r := &Runner{tasks: make(map[string]Task), running: make(map[string]bool)}
	for _, t := range tasks {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a task under its name.
func (r *Runner) Register(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.Name()] = t
}

// Names lists registered tasks alphabetically.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes one pass of the named task. A panic inside the task is
// recovered and reported as an error so the scheduler sees a failed run.
func (r *Runner) Run(ctx context.Context, name string) (rep *Report, err error) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok {
		r.mu.Unlock()
		return nil, apierror.NotFound("unknown task %q", name)
	}
	if r.running[name] {
		r.mu.Unlock()
		return nil, apierror.Conflict("task_running", "task %q is already running", name)
	}
	r.running[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.running, name)
		r.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("task", name).Interface("panic", p).Msg("worker: task panicked")
			rep, err = nil, fmt.Errorf("task %s panicked: %v", name, p)
		}
	}()

	out, err := t.RunOnce(ctx)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("task", name).Dur("elapsed", elapsed).Msg("worker: task failed")
		return nil, err
	}

	ev := log.Info()
	if out.Idle {
		ev = log.Debug()
	}
	ev.Str("task", name).Bool("idle", out.Idle).Dur("elapsed", elapsed).Msg("worker: task finished")

	return &Report{
		Task:       name,
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Outcome:    out,
	}, nil
}

// Drain repeats the task until it reports idle or maxRuns passes have run.
// Used by the cron entry point to empty a queue in one invocation.
func (r *Runner) Drain(ctx context.Context, name string, maxRuns int) ([]Report, error) {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	var reports []Report
	for i := 0; i < maxRuns; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := r.Run(ctx, name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *rep)
		if rep.Idle {
			break
		}
	}
	return reports, nil
}
