package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/types"
)

type captureInserter struct {
	runs []*types.AgentRun
	err  error
}

func (c *captureInserter) InsertAgentRun(_ context.Context, run *types.AgentRun) error {
	if c.err != nil {
		return c.err
	}
	c.runs = append(c.runs, run)
	return nil
}

func TestRecorderRecordsSuccessfulAttempt(t *testing.T) {
	store := &captureInserter{}
	rec := NewRecorder(store, nil, zap.NewNop())
	ended := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	rec.now = func() time.Time { return ended }

	rec.Record(context.Background(), "sess", types.StageResearch, Attempt{
		Index:    0,
		Result:   types.AgentResult{Success: true, Data: json.RawMessage(`{"market":"big"}`)},
		Duration: 3 * time.Second,
	})

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, "sess", run.SessionID)
	assert.Equal(t, "research", run.AgentName)
	assert.Equal(t, 0, run.Attempt)
	assert.Equal(t, types.RunOK, run.Status)
	assert.JSONEq(t, `{"market":"big"}`, string(run.OutputJSON))
	assert.Nil(t, run.Error)
	assert.Equal(t, int64(3000), run.DurationMs)
	// StartedAt is reconstructed from the attempt duration.
	assert.Equal(t, ended.Add(-3*time.Second), run.StartedAt)
	assert.Equal(t, ended, run.EndedAt)
}

func TestRecorderRecordsFailedAttempt(t *testing.T) {
	store := &captureInserter{}
	rec := NewRecorder(store, nil, zap.NewNop())

	rec.Record(context.Background(), "sess", types.StageScore, Attempt{
		Index:    1,
		Result:   types.AgentResult{Error: "timeout after 45s"},
		Duration: 45 * time.Second,
	})

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, 1, run.Attempt)
	require.NotNil(t, run.Error)
	assert.Equal(t, "timeout after 45s", *run.Error)
	assert.Empty(t, run.OutputJSON)
}

func TestRecorderSwallowsInsertFailure(t *testing.T) {
	store := &captureInserter{err: errors.New("connection reset")}
	rec := NewRecorder(store, nil, zap.NewNop())

	// Must not panic or propagate; an audit outage cannot affect the
	// pipeline outcome.
	rec.Record(context.Background(), "sess", types.StageExtract, Attempt{
		Index:  0,
		Result: types.AgentResult{Success: true},
	})
	assert.Empty(t, store.runs)
}

func TestRecorderTruncatesLongErrors(t *testing.T) {
	store := &captureInserter{}
	rec := NewRecorder(store, nil, zap.NewNop())

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	rec.Record(context.Background(), "sess", types.StageCompose, Attempt{
		Index:  0,
		Result: types.AgentResult{Error: string(long)},
	})

	require.Len(t, store.runs, 1)
	require.NotNil(t, store.runs[0].Error)
	assert.LessOrEqual(t, len(*store.runs[0].Error), 2048+3)
}
