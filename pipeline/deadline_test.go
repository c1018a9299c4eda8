package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/ventureflow/types"
)

func TestCheckDeadlineAt(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	budget := 300 * time.Second

	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr bool
	}{
		{"well inside budget", time.Second, false},
		{"just under budget", budget - time.Nanosecond, false},
		{"exactly at budget", budget, true},
		{"past budget", budget + time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDeadlineAt(start.Add(tt.elapsed), start, budget, types.StageScore)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var dErr *DeadlineError
			require.ErrorAs(t, err, &dErr)
			assert.Equal(t, types.StageScore, dErr.Stage)
			assert.Contains(t, err.Error(), "score")
		})
	}
}

func TestCheckDeadlineAtProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := time.Unix(rapid.Int64Range(0, 1<<32).Draw(t, "start"), 0)
		budget := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "budget"))
		elapsed := time.Duration(rapid.Int64Range(0, int64(2*time.Hour)).Draw(t, "elapsed"))

		err := CheckDeadlineAt(start.Add(elapsed), start, budget, types.StageExtract)
		if elapsed >= budget {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	})
}
