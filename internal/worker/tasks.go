package worker

import (
	"context"

	"qrtrace/internal/infra"
	"qrtrace/internal/service"

	"github.com/rs/zerolog/log"
)

const (
	TaskReverseJobs  = "reverse_jobs"
	TaskIntake       = "intake"
	TaskLedgerReplay = "ledger_replay"

	defaultReplayBatchSize = 20
)

// ── reverse_jobs ──────────────────────────────────────────────────────────────

// ReverseJobsTask claims and processes at most one pending spoilage job.
type ReverseJobsTask struct {
	svc service.ReverseJobService
}

func NewReverseJobsTask(svc service.ReverseJobService) *ReverseJobsTask {
	return &ReverseJobsTask{svc: svc}
}

func (t *ReverseJobsTask) Name() string { return TaskReverseJobs }

func (t *ReverseJobsTask) RunOnce(ctx context.Context) (Outcome, error) {
	res, err := t.svc.ProcessNext(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Idle: res.Idle, Result: res}, nil
}

// ── intake ────────────────────────────────────────────────────────────────────

// IntakeTask receives the oldest queued batch into its warehouse.
type IntakeTask struct {
	svc service.IntakeService
}

func NewIntakeTask(svc service.IntakeService) *IntakeTask {
	return &IntakeTask{svc: svc}
}

func (t *IntakeTask) Name() string { return TaskIntake }

func (t *IntakeTask) RunOnce(ctx context.Context) (Outcome, error) {
	res, err := t.svc.ProcessNext(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Idle: res.Idle, Result: res}, nil
}

// ── ledger_replay ─────────────────────────────────────────────────────────────

// LedgerReplayTask re-posts dead-lettered stock movements. While the ledger
// breaker is open the pass is skipped entirely.
type LedgerReplayTask struct {
	svc       service.IntakeService
	breaker   *infra.CircuitBreaker
	batchSize int
}

func NewLedgerReplayTask(svc service.IntakeService, breaker *infra.CircuitBreaker, batchSize int) *LedgerReplayTask {
	if batchSize <= 0 {
		batchSize = defaultReplayBatchSize
	}
	return &LedgerReplayTask{svc: svc, breaker: breaker, batchSize: batchSize}
}

func (t *LedgerReplayTask) Name() string { return TaskLedgerReplay }

func (t *LedgerReplayTask) RunOnce(ctx context.Context) (Outcome, error) {
	if t.breaker != nil && t.breaker.State() == infra.CBOpen {
		log.Debug().Msg("ledger_replay: circuit breaker is open, skipping pass")
		return Outcome{Idle: true, Result: map[string]string{"skipped": "circuit breaker open"}}, nil
	}
	res, err := t.svc.ReplayFailedPostings(ctx, t.batchSize)
	if err != nil {
		return Outcome{}, err
	}
	if res.Attempted > 0 {
		log.Info().
			Int("attempted", res.Attempted).
			Int("posted", res.Posted).
			Int("requeued", res.Requeued).
			Msg("ledger_replay: pass complete")
	}
	// Requeue-only passes count as idle so Drain stops.
	return Outcome{Idle: res.Attempted == 0 || res.Posted == 0, Result: res}, nil
}

// StandardTasks builds the three tasks every deployment registers.
func StandardTasks(reverse service.ReverseJobService, intake service.IntakeService, breaker *infra.CircuitBreaker, replayBatch int) []Task {
	return []Task{
		NewReverseJobsTask(reverse),
		NewIntakeTask(intake),
		NewLedgerReplayTask(intake, breaker, replayBatch),
	}
}
