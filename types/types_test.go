package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, SessionRunning.Terminal())
	assert.True(t, SessionComplete.Terminal())
	assert.True(t, SessionPartial.Terminal())
	assert.True(t, SessionFailed.Terminal())
}

func TestStageSets(t *testing.T) {
	all := AllStages()
	require.Len(t, all, 6)
	assert.Equal(t, StageExtract, all[0])
	assert.Equal(t, StageCompose, all[5])

	for _, s := range all {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Stage("summarize").Valid())

	assert.True(t, StageExtract.Critical())
	for _, s := range GracefulStages() {
		assert.False(t, s.Critical(), string(s))
	}
}

func TestJSONTextRoundTrip(t *testing.T) {
	raw := `{"overall_score":72.5,"highlights":["strong team"]}`

	var j JSONText
	require.NoError(t, j.Scan([]byte(raw)))

	v, err := j.Value()
	require.NoError(t, err)
	assert.Equal(t, raw, v)

	out, err := json.Marshal(j)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestJSONTextEmptyMarshalsAsNull(t *testing.T) {
	var j JSONText
	out, err := json.Marshal(j)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))

	v, err := j.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONStringsScanAndValue(t *testing.T) {
	var s JSONStrings
	require.NoError(t, s.Scan(`["research","competitors"]`))
	assert.Equal(t, JSONStrings{"research", "competitors"}, s)

	v, err := s.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["research","competitors"]`, v.(string))

	// A nil slice still stores as an empty array, never SQL NULL.
	var empty JSONStrings
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v.(string))
}

func TestJSONStringsScanRejectsUnknownType(t *testing.T) {
	var s JSONStrings
	assert.Error(t, s.Scan(42))
}
