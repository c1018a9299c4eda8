package types

import "encoding/json"

// Stage identifies one node of the fixed validation DAG.
type Stage string

const (
	StageExtract     Stage = "extract"
	StageResearch    Stage = "research"
	StageCompetitors Stage = "competitors"
	StageScore       Stage = "score"
	StageMVP         Stage = "mvp"
	StageCompose     Stage = "compose"
)

// AllStages lists every stage in dependency order. The two parallel stages
// (research, competitors) appear in declaration order only; neither depends
// on the other.
func AllStages() []Stage {
	return []Stage{
		StageExtract,
		StageResearch,
		StageCompetitors,
		StageScore,
		StageMVP,
		StageCompose,
	}
}

// GracefulStages lists the stages whose failure degrades the run instead of
// aborting it. Everything except extract.
func GracefulStages() []Stage {
	return []Stage{
		StageResearch,
		StageCompetitors,
		StageScore,
		StageMVP,
		StageCompose,
	}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageExtract, StageResearch, StageCompetitors, StageScore, StageMVP, StageCompose:
		return true
	}
	return false
}

// Critical reports whether a failure of this stage aborts the pipeline.
func (s Stage) Critical() bool { return s == StageExtract }

// -----------------------------------------------------------------------------
// Per-stage agent payloads
// -----------------------------------------------------------------------------
// Each agent receives a schema-tagged payload specific to its stage, so the
// runner's dispatch is exhaustive and statically checkable rather than an
// untyped blob. Upstream slots that may be missing are plain json.RawMessage
// without omitempty: a failed upstream stage serializes as an explicit null.

// ExtractPayload is the input of the extract agent.
type ExtractPayload struct {
	InputText        string          `json:"input_text"`
	InterviewContext json.RawMessage `json:"interview_context,omitempty"`
}

// ResearchPayload is the input of the market research agent.
type ResearchPayload struct {
	Profile       json.RawMessage `json:"profile"`
	SearchQueries json.RawMessage `json:"search_queries,omitempty"`
}

// CompetitorsPayload is the input of the competitor analysis agent.
type CompetitorsPayload struct {
	Profile json.RawMessage `json:"profile"`
}

// ScorePayload is the input of the scoring agent. Research and Competitors
// are null when the corresponding stage failed.
type ScorePayload struct {
	Profile     json.RawMessage `json:"profile"`
	Research    json.RawMessage `json:"research"`
	Competitors json.RawMessage `json:"competitors"`
}

// MVPPayload is the input of the MVP scoping agent.
type MVPPayload struct {
	Profile json.RawMessage `json:"profile"`
	Scores  json.RawMessage `json:"scores"`
	Risks   json.RawMessage `json:"risks,omitempty"`
}

// ComposePayload is the input of the report composer. Any upstream slot may
// be null; the composer produces a degraded report from whatever is present.
type ComposePayload struct {
	Profile     json.RawMessage `json:"profile"`
	Research    json.RawMessage `json:"research"`
	Competitors json.RawMessage `json:"competitors"`
	Scoring     json.RawMessage `json:"scoring"`
	MVP         json.RawMessage `json:"mvp"`
}
