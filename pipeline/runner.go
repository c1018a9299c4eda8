package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ventureflow/internal/metrics"
	"github.com/BaSui01/ventureflow/types"
)

// Storage is the slice of the store the runner writes through.
type Storage interface {
	RunInserter
	SessionFailer
	FinishSession(ctx context.Context, id string, status types.SessionStatus, failedSteps []string, errorMessage *string) error
	InsertReport(ctx context.Context, report *types.Report) error
}

// failedThreshold is the graceful-failure count at which a run stops
// being partial and becomes failed outright.
const failedThreshold = 3

// Runner drives one session through the full stage DAG. It is safe for
// concurrent use; each Run call owns its session exclusively.
type Runner struct {
	client   Invoker
	recorder *Recorder
	storage  Storage
	registry *Registry
	bus      *Bus
	metrics  *metrics.Collector
	budget   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(client Invoker, recorder *Recorder, storage Storage, registry *Registry, bus *Bus, collector *metrics.Collector, budget time.Duration, logger *zap.Logger) *Runner {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Runner{
		client:   client,
		recorder: recorder,
		storage:  storage,
		registry: registry,
		bus:      bus,
		metrics:  collector,
		budget:   budget,
		logger:   logger.With(zap.String("component", "pipeline_runner")),
		now:      time.Now,
	}
}

// Launch starts the run on a detached goroutine and returns immediately.
// The caller's request context must not be passed in; the run outlives
// the request that started it.
func (r *Runner) Launch(session *types.Session, interviewContext json.RawMessage) {
	go r.Run(context.Background(), session, interviewContext)
}

// Run executes the DAG to a terminal status. It never returns an error:
// every failure path ends in a session row write, and a panic inside the
// run is converted into a failed session rather than a crashed process.
func (r *Runner) Run(ctx context.Context, session *types.Session, interviewContext json.RawMessage) {
	start := r.now()
	logger := r.logger.With(zap.String("session_id", session.ID))

	if r.metrics != nil {
		r.metrics.PipelineStarted()
	}
	r.registry.Add(session.ID, r.storage)
	defer r.registry.Remove(session.ID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("pipeline panicked", zap.Any("panic", rec), zap.Stack("stack"))
			msg := fmt.Sprintf("pipeline crashed: %v", rec)
			if _, err := r.storage.MarkFailedIfRunning(ctx, session.ID, msg); err != nil {
				logger.Error("failed-session write after panic failed", zap.Error(err))
			}
			r.finish(session.ID, types.SessionFailed, "", start)
		}
	}()

	logger.Info("pipeline starting")

	var failed []string

	// Stage 1: extract. Critical; nothing downstream runs without a
	// profile.
	if err := r.checkDeadline(ctx, session.ID, start, types.StageExtract, failed, logger); err != nil {
		return
	}
	profile, extractErr, ok := r.invokeStage(ctx, session.ID, types.StageExtract, types.ExtractPayload{
		InputText:        session.InputText,
		InterviewContext: interviewContext,
	}, logger)
	if !ok {
		failed = append(failed, string(types.StageExtract))
		msg := "extract failed: " + extractErr
		r.writeTerminal(ctx, session.ID, types.SessionFailed, failed, &msg, logger)
		r.finish(session.ID, types.SessionFailed, "", start)
		return
	}

	// Stage 2: research and competitors in parallel. Both graceful; a
	// failure on either side leaves a null slot downstream.
	if err := r.checkDeadline(ctx, session.ID, start, types.StageResearch, failed, logger); err != nil {
		return
	}
	var research, competitors json.RawMessage
	var researchOK, competitorsOK bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		research, _, researchOK = r.invokeStage(gctx, session.ID, types.StageResearch, types.ResearchPayload{
			Profile:       profile,
			SearchQueries: rawField(profile, "search_queries"),
		}, logger)
		return nil
	})
	g.Go(func() error {
		competitors, _, competitorsOK = r.invokeStage(gctx, session.ID, types.StageCompetitors, types.CompetitorsPayload{
			Profile: profile,
		}, logger)
		return nil
	})
	_ = g.Wait()

	if !researchOK {
		failed = append(failed, string(types.StageResearch))
	}
	if !competitorsOK {
		failed = append(failed, string(types.StageCompetitors))
	}

	// Stage 3: score. Runs even when both parallel stages failed; the
	// payload carries explicit nulls so the agent can degrade.
	if err := r.checkDeadline(ctx, session.ID, start, types.StageScore, failed, logger); err != nil {
		return
	}
	scoring, _, scoringOK := r.invokeStage(ctx, session.ID, types.StageScore, types.ScorePayload{
		Profile:     profile,
		Research:    research,
		Competitors: competitors,
	}, logger)
	if !scoringOK {
		failed = append(failed, string(types.StageScore))
	}

	// Stage 4: mvp. Depends on scoring output; without it the stage is
	// skipped entirely, counted as failed but producing no audit row.
	if err := r.checkDeadline(ctx, session.ID, start, types.StageMVP, failed, logger); err != nil {
		return
	}
	var mvp json.RawMessage
	if scoringOK {
		var mvpOK bool
		mvp, _, mvpOK = r.invokeStage(ctx, session.ID, types.StageMVP, types.MVPPayload{
			Profile: profile,
			Scores:  scoring,
			Risks:   rawField(scoring, "risks"),
		}, logger)
		if !mvpOK {
			failed = append(failed, string(types.StageMVP))
		}
	} else {
		failed = append(failed, string(types.StageMVP))
		r.publish(Event{
			SessionID:  session.ID,
			Type:       EventAgentFailed,
			Agent:      string(types.StageMVP),
			Step:       stageSteps[types.StageMVP],
			TotalSteps: totalSteps,
			Error:      "skipped: scoring stage failed",
		})
		logger.Info("mvp skipped", zap.String("reason", "scoring failed"))
	}

	// Stage 5: compose. Always attempted once a profile exists; null
	// slots yield a degraded report.
	if err := r.checkDeadline(ctx, session.ID, start, types.StageCompose, failed, logger); err != nil {
		return
	}
	composed, _, composedOK := r.invokeStage(ctx, session.ID, types.StageCompose, types.ComposePayload{
		Profile:     profile,
		Research:    research,
		Competitors: competitors,
		Scoring:     scoring,
		MVP:         mvp,
	}, logger)
	if !composedOK {
		failed = append(failed, string(types.StageCompose))
	}

	var reportID string
	if composedOK {
		reportID = r.writeReport(ctx, session, scoring, composed, logger)
	}

	status := classify(len(failed))
	var errMsg *string
	if len(failed) > 0 {
		msg := "failed agents: " + strings.Join(failed, ", ")
		errMsg = &msg
	}
	r.writeTerminal(ctx, session.ID, status, failed, errMsg, logger)
	r.finish(session.ID, status, reportID, start)

	logger.Info("pipeline finished",
		zap.String("status", string(status)),
		zap.Strings("failed_steps", failed),
		zap.Duration("elapsed", r.now().Sub(start)))
}

// classify maps the graceful-failure count to a terminal status.
func classify(failedCount int) types.SessionStatus {
	switch {
	case failedCount == 0:
		return types.SessionComplete
	case failedCount < failedThreshold:
		return types.SessionPartial
	default:
		return types.SessionFailed
	}
}

// invokeStage calls one agent, records every attempt, and publishes
// progress events. The bool reports whether usable output came back; on
// failure the string carries the agent's final error.
func (r *Runner) invokeStage(ctx context.Context, sessionID string, stage types.Stage, payload any, logger *zap.Logger) (json.RawMessage, string, bool) {
	r.publish(Event{
		SessionID:  sessionID,
		Type:       EventAgentStarted,
		Agent:      string(stage),
		Step:       stageSteps[stage],
		TotalSteps: totalSteps,
	})

	res, attempts := r.client.Invoke(ctx, stage, payload)
	for _, a := range attempts {
		r.recorder.Record(ctx, sessionID, stage, a)
	}

	last := attempts[len(attempts)-1]
	ev := Event{
		SessionID:  sessionID,
		Type:       EventAgentCompleted,
		Agent:      string(stage),
		Step:       stageSteps[stage],
		TotalSteps: totalSteps,
		DurationMs: last.Duration.Milliseconds(),
	}
	if !res.Success {
		ev.Type = EventAgentFailed
		ev.Error = res.Error
	}
	r.publish(ev)

	if !res.Success {
		logger.Warn("stage failed",
			zap.String("stage", string(stage)),
			zap.Int("attempts", len(attempts)),
			zap.String("error", res.Error))
		return nil, res.Error, false
	}
	return res.Data, "", true
}

// checkDeadline aborts the run when the budget is spent, writing the
// terminal failure itself. A non-nil return means the caller must stop.
func (r *Runner) checkDeadline(ctx context.Context, sessionID string, start time.Time, next types.Stage, failed []string, logger *zap.Logger) error {
	err := CheckDeadlineAt(r.now(), start, r.budget, next)
	if err == nil {
		return nil
	}
	logger.Error("pipeline budget exhausted",
		zap.String("next_stage", string(next)),
		zap.Duration("elapsed", r.now().Sub(start)))
	if r.metrics != nil {
		r.metrics.RecordDeadlineAbort()
	}
	msg := err.Error()
	r.writeTerminal(ctx, sessionID, types.SessionFailed, failed, &msg, logger)
	r.finish(sessionID, types.SessionFailed, "", start)
	return err
}

// writeTerminal flips the session to a terminal status. Losing the race
// to the teardown sweep is tolerated; the row is terminal either way.
func (r *Runner) writeTerminal(ctx context.Context, sessionID string, status types.SessionStatus, failed []string, errMsg *string, logger *zap.Logger) {
	if err := r.storage.FinishSession(ctx, sessionID, status, failed, errMsg); err != nil {
		logger.Error("terminal session write failed",
			zap.String("status", string(status)), zap.Error(err))
	}
}

// writeReport persists the composed report, pulling the headline score
// and findings out of the scoring output. Insert failures degrade to a
// log line; the session outcome is already decided.
func (r *Runner) writeReport(ctx context.Context, session *types.Session, scoring, composed json.RawMessage, logger *zap.Logger) string {
	var digest struct {
		OverallScore *float64 `json:"overall_score"`
		Highlights   []string `json:"highlights"`
		RedFlags     []string `json:"red_flags"`
	}
	if len(scoring) > 0 {
		// Best effort: a scoring payload that does not match the
		// expected shape still yields a report, just without a score.
		_ = json.Unmarshal(scoring, &digest)
	}

	var verdict struct {
		SummaryVerdict string `json:"summary_verdict"`
	}
	_ = json.Unmarshal(composed, &verdict)

	verified := false
	report := &types.Report{
		SessionID:  session.ID,
		StartupID:  session.StartupID,
		ReportType: "overall",
		// Null, not zero, when scoring produced nothing: a stored 0
		// reads as a hard no-go rather than an absent score.
		Score:       digest.OverallScore,
		Summary:     verdict.SummaryVerdict,
		Details:     types.JSONText(composed),
		KeyFindings: append(append(types.JSONStrings{}, digest.Highlights...), digest.RedFlags...),
		Verified:    &verified,
	}
	if err := r.storage.InsertReport(ctx, report); err != nil {
		logger.Error("report insert failed", zap.Error(err))
		return ""
	}
	return report.ID
}

// finish publishes the terminal event and closes out run metrics.
func (r *Runner) finish(sessionID string, status types.SessionStatus, reportID string, start time.Time) {
	if r.metrics != nil {
		r.metrics.PipelineFinished(string(status), r.now().Sub(start))
	}
	ev := Event{
		SessionID: sessionID,
		Type:      EventPipelineComplete,
		Status:    string(status),
		ReportID:  reportID,
	}
	if status == types.SessionFailed {
		ev.Type = EventPipelineFailed
	}
	r.publish(ev)
}

func (r *Runner) publish(ev Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

// rawField extracts one top-level field from a JSON object, or nil when
// absent or the document is not an object.
func rawField(doc json.RawMessage, key string) json.RawMessage {
	if len(doc) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil
	}
	return m[key]
}
