package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"montage/internal/logging"
	"montage/internal/staging"
	"montage/internal/task"
)

// Pool fans unit rendering out across a bounded number of workers.
// Transition units hit the external provider, so their concurrency is
// limited separately from cheap local still synthesis.
type Pool struct {
	worker        *Worker
	stillLimit    int64
	generateLimit int64
	logger        *slog.Logger
}

// NewPool builds a Pool around a worker. Limits below one are raised to one.
func NewPool(worker *Worker, stillLimit, generateLimit int, logger *slog.Logger) *Pool {
	if stillLimit < 1 {
		stillLimit = 1
	}
	if generateLimit < 1 {
		generateLimit = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		worker:        worker,
		stillLimit:    int64(stillLimit),
		generateLimit: int64(generateLimit),
		logger:        logger,
	}
}

// UnitError records a single unit's rendering failure.
type UnitError struct {
	Position int
	UnitID   int64
	Err      error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Position, e.Err)
}

func (e UnitError) Unwrap() error {
	return e.Err
}

// Outcome carries the surviving clips, in input order, alongside the units
// that failed. The caller decides how many failures it tolerates.
type Outcome struct {
	Clips    []UnitClip
	Failures []UnitError
}

// Err joins the per-unit failures, or returns nil when every unit rendered.
func (o Outcome) Err() error {
	if len(o.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(o.Failures))
	for i, failure := range o.Failures {
		errs[i] = failure
	}
	return errors.Join(errs...)
}

// Progress is invoked after each unit attempt, successful or not. Calls are
// serialized and attempts counts up to the total.
type Progress func(attempts, total int)

// RenderAll attempts every unit and returns the clips that survived in input
// order plus the per-unit failures. One bad unit does not waste the work of
// its siblings: their clips are still returned and stay cached for a retry.
// The error return is reserved for an empty unit list and cancellation.
func (p *Pool) RenderAll(ctx context.Context, ws *staging.Workspace, units []*task.Unit, progress Progress) (Outcome, error) {
	if len(units) == 0 {
		return Outcome{}, errors.New("synthesis: no units to render")
	}

	stills := semaphore.NewWeighted(p.stillLimit)
	generations := semaphore.NewWeighted(p.generateLimit)

	clips := make([]UnitClip, len(units))
	unitErrs := make([]*UnitError, len(units))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if progress != nil {
			progress(attempts, len(units))
		}
	}

	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit *task.Unit) {
			defer wg.Done()
			defer report()

			sem := stills
			if unit.Kind == task.UnitTransition {
				sem = generations
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				unitErrs[i] = &UnitError{Position: unit.Position, UnitID: unit.ID, Err: err}
				return
			}
			defer sem.Release(1)

			clip, err := p.worker.Render(ctx, ws, unit)
			if err != nil {
				p.logger.Error("unit rendering failed",
					logging.Int64(logging.FieldUnitID, unit.ID),
					logging.Int("position", unit.Position),
					logging.Error(err))
				unitErrs[i] = &UnitError{Position: unit.Position, UnitID: unit.ID, Err: err}
				return
			}
			clips[i] = clip
		}(i, unit)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	for i := range units {
		if unitErrs[i] != nil {
			outcome.Failures = append(outcome.Failures, *unitErrs[i])
			continue
		}
		outcome.Clips = append(outcome.Clips, clips[i])
	}
	if len(outcome.Failures) > 0 {
		p.logger.Warn("some units failed to render",
			logging.Int("failed", len(outcome.Failures)),
			logging.Int("survived", len(outcome.Clips)))
	}
	return outcome, nil
}
