package pipeline

import (
	"fmt"
	"time"

	"github.com/BaSui01/ventureflow/types"
)

// DefaultBudget is the aggregate wall-clock allowance for an entire run.
// Individual stage timeouts bound single calls; this bounds their sum.
const DefaultBudget = 300 * time.Second

// DeadlineError reports that the budget ran out before the named stage
// could start. It is distinguishable from a stage timeout, which surfaces
// as a failed AgentResult instead.
type DeadlineError struct {
	Stage   types.Stage
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("pipeline budget exhausted before %s stage: %s elapsed of %s allowed",
		e.Stage, e.Elapsed.Round(time.Millisecond), e.Budget)
}

// CheckDeadlineAt is the pure core of the budget guard: it compares the
// elapsed run time at now against the budget and returns a DeadlineError
// when the next stage must not start.
func CheckDeadlineAt(now, start time.Time, budget time.Duration, next types.Stage) error {
	elapsed := now.Sub(start)
	if elapsed >= budget {
		return &DeadlineError{Stage: next, Elapsed: elapsed, Budget: budget}
	}
	return nil
}

// CheckDeadline evaluates the guard against the current time.
func CheckDeadline(start time.Time, budget time.Duration, next types.Stage) error {
	return CheckDeadlineAt(time.Now(), start, budget, next)
}
