package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/internal/metrics"
	"github.com/BaSui01/ventureflow/types"
)

// RunInserter is the slice of the store the recorder needs.
type RunInserter interface {
	InsertAgentRun(ctx context.Context, run *types.AgentRun) error
}

// Recorder appends one audit row per agent attempt. Persistence is best
// effort: a failed insert is logged and counted, never propagated, so an
// audit outage cannot change a pipeline's outcome.
type Recorder struct {
	store   RunInserter
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

func NewRecorder(store RunInserter, collector *metrics.Collector, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:   store,
		metrics: collector,
		logger:  logger.With(zap.String("component", "run_recorder")),
		now:     time.Now,
	}
}

// Record persists the attempt. StartedAt is reconstructed from the attempt
// duration so rows order correctly even though they are written after the
// call returns.
func (r *Recorder) Record(ctx context.Context, sessionID string, stage types.Stage, a Attempt) {
	ended := r.now()
	run := &types.AgentRun{
		SessionID:  sessionID,
		AgentName:  string(stage),
		Attempt:    a.Index,
		Status:     types.RunOK,
		DurationMs: a.Duration.Milliseconds(),
		StartedAt:  ended.Add(-a.Duration),
		EndedAt:    ended,
	}
	if a.Result.Success {
		run.OutputJSON = types.JSONText(a.Result.Data)
	} else {
		run.Status = types.RunFailed
		msg := truncate(a.Result.Error, 2048)
		run.Error = &msg
	}

	if r.metrics != nil {
		r.metrics.RecordAgentRun(string(stage), string(run.Status), a.Duration)
	}

	if err := r.store.InsertAgentRun(ctx, run); err != nil {
		r.logger.Error("agent run audit write failed",
			zap.String("session_id", sessionID),
			zap.String("stage", string(stage)),
			zap.Int("attempt", a.Index),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.RecordRecorderDrop()
		}
	}
}
