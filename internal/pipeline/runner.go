package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
)

type resultsKey struct{}

// StageResultsFromContext returns the main-region results snapshot injected
// into finalizer contexts, nil outside a finalizer.
func StageResultsFromContext(ctx context.Context) []domain.StageResult {
	results, _ := ctx.Value(resultsKey{}).([]domain.StageResult)
	return results
}

// Run executes the graph until the main region settles, then runs every
// finalizer exactly once with cancellation masked off. The returned outcome
// lists every declared stage; the returned error is the main-region failure
// (or the context error), surfaced only after the finalizers ran.
func (r *Runner) Run(ctx context.Context) (domain.PipelineOutcome, error) {
	startedAt := time.Now().UTC()
	results := make(map[string]*domain.StageResult, len(r.stages))
	for i := range r.stages {
		s := &r.stages[i]
		results[s.Name] = &domain.StageResult{
			Stage:     s.Name,
			State:     domain.StagePending,
			Finalizer: s.Finalizer,
		}
	}

	runErr := r.runMain(ctx, results)

	// Failure or cancellation leaves dependents and later stages pending.
	for _, s := range r.main {
		if res := results[s.Name]; res.State == domain.StagePending {
			res.State = domain.StageSkipped
		}
	}

	// Finalizers observe the values of ctx but not its cancellation, and
	// get a snapshot of the main-region results to report on.
	snapshot := make([]domain.StageResult, 0, len(r.main))
	for _, s := range r.main {
		snapshot = append(snapshot, *results[s.Name])
	}
	finalizerCtx := context.WithValue(context.WithoutCancel(ctx), resultsKey{}, snapshot)
	for _, s := range r.finalizers {
		if err := r.execStage(finalizerCtx, s, results[s.Name]); err != nil {
			logger.L().Ctx(finalizerCtx).Warning("finalizer failed",
				helpers.String("stage", s.Name), helpers.Error(err))
		}
	}

	outcome := domain.PipelineOutcome{
		Outcome:    domain.OutcomeSuccess,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	for i := range r.stages {
		res := results[r.stages[i].Name]
		outcome.Stages = append(outcome.Stages, *res)
		if !res.Finalizer && res.State == domain.StageFailed {
			outcome.Outcome = domain.OutcomeFailure
		}
	}
	if runErr != nil {
		outcome.Outcome = domain.OutcomeFailure
	}
	return outcome, runErr
}

// runMain schedules the main region one unit at a time and stops at the
// first failing unit or at cancellation.
func (r *Runner) runMain(ctx context.Context, results map[string]*domain.StageResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		unit := r.nextUnit(results)
		if unit == nil {
			return nil
		}
		if err := r.runUnit(ctx, unit, results); err != nil {
			return err
		}
	}
}

// nextUnit picks the next runnable unit in declaration order, skipping any
// stage whose needs failed or were skipped. It returns nil once nothing is
// left to schedule.
func (r *Runner) nextUnit(results map[string]*domain.StageResult) []*Stage {
	for {
		progressed := false
		for _, s := range r.main {
			res := results[s.Name]
			if res.State != domain.StagePending {
				continue
			}
			ready, blocked := true, false
			for _, need := range s.Needs {
				switch results[need].State {
				case domain.StageSuccess:
				case domain.StageFailed, domain.StageSkipped:
					blocked = true
				default:
					ready = false
				}
			}
			if blocked {
				res.State = domain.StageSkipped
				logger.L().Info("stage skipped", helpers.String("stage", s.Name))
				progressed = true
				continue
			}
			if !ready {
				continue
			}
			if s.Group == "" {
				return []*Stage{s}
			}
			if unit := r.groupUnit(s.Group, results); unit != nil {
				return unit
			}
		}
		if !progressed {
			return nil
		}
	}
}

// groupUnit returns the whole group once every member is pending with all
// of its needs succeeded, nil while any member still waits.
func (r *Runner) groupUnit(group string, results map[string]*domain.StageResult) []*Stage {
	members := r.groups[group]
	for _, m := range members {
		if results[m.Name].State != domain.StagePending {
			return nil
		}
		for _, need := range m.Needs {
			if results[need].State != domain.StageSuccess {
				return nil
			}
		}
	}
	return members
}

// runUnit executes a single stage inline and a group concurrently, waiting
// for every member before reporting. Running members are never cancelled by
// a sibling's failure; the barrier collects all of them.
func (r *Runner) runUnit(ctx context.Context, unit []*Stage, results map[string]*domain.StageResult) error {
	errs := make([]error, len(unit))
	if len(unit) == 1 {
		errs[0] = r.execStage(ctx, unit[0], results[unit[0].Name])
	} else {
		var wg sync.WaitGroup
		for i, s := range unit {
			wg.Add(1)
			go func(i int, s *Stage) {
				defer wg.Done()
				errs[i] = r.execStage(ctx, s, results[s.Name])
			}(i, s)
		}
		wg.Wait()
	}

	var unitErr *multierror.Error
	for i, s := range unit {
		if errs[i] != nil {
			unitErr = multierror.Append(unitErr, &domain.StageError{Stage: s.Name, Err: errs[i]})
		}
	}
	return unitErr.ErrorOrNil()
}

// execStage runs one handler with tracing, timing and panic containment.
func (r *Runner) execStage(ctx context.Context, s *Stage, res *domain.StageResult) error {
	ctx, span := otel.Tracer("").Start(ctx, "pipeline."+s.Name)
	defer span.End()

	res.State = domain.StageRunning
	res.StartedAt = time.Now().UTC()
	logger.L().Info("stage started", helpers.String("stage", s.Name))

	refs, err := r.invoke(ctx, s)
	res.Duration = time.Since(res.StartedAt)
	res.Produced = refs
	if err != nil {
		res.State = domain.StageFailed
		res.Error = err.Error()
		logger.L().Ctx(ctx).Error("stage failed",
			helpers.String("stage", s.Name), helpers.Error(err))
		return err
	}
	res.State = domain.StageSuccess
	logger.L().Info("stage completed",
		helpers.String("stage", s.Name),
		helpers.String("duration", res.Duration.String()))
	return nil
}

func (r *Runner) invoke(ctx context.Context, s *Stage) (refs []domain.ArtifactRef, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage panicked: %v", p)
		}
	}()
	return s.Run(ctx)
}
