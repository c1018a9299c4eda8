package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/internal/ctxkeys"
	"github.com/BaSui01/ventureflow/internal/quota"
	"github.com/BaSui01/ventureflow/store"
	"github.com/BaSui01/ventureflow/types"
)

// SessionStore is the persistence surface the validator endpoints read
// and write through.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, startupID *string, inputText string) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListAgentRuns(ctx context.Context, sessionID string) ([]types.AgentRun, error)
	GetReport(ctx context.Context, id string) (*types.Report, error)
	GetReportBySession(ctx context.Context, sessionID string) (*types.Report, error)
}

// Launcher detaches a pipeline run from the request that started it.
type Launcher interface {
	Launch(session *types.Session, interviewContext json.RawMessage)
}

// htmlTagPattern strips markup before length validation so padding a
// short prompt with tags cannot pass the minimum.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// ValidatorHandler serves the validation session lifecycle endpoints.
type ValidatorHandler struct {
	store    SessionStore
	launcher Launcher
	limiter  quota.Limiter
	minChars int
	maxChars int
	logger   *zap.Logger
}

func NewValidatorHandler(st SessionStore, launcher Launcher, limiter quota.Limiter, minChars, maxChars int, logger *zap.Logger) *ValidatorHandler {
	return &ValidatorHandler{
		store:    st,
		launcher: launcher,
		limiter:  limiter,
		minChars: minChars,
		maxChars: maxChars,
		logger:   logger.With(zap.String("component", "validator_handler")),
	}
}

// StartSessionRequest is the body of POST /api/v1/validator/sessions.
type StartSessionRequest struct {
	InputText        string          `json:"input_text"`
	StartupID        *string         `json:"startup_id,omitempty"`
	InterviewContext json.RawMessage `json:"interview_context,omitempty"`
}

// StartSessionResponse acknowledges an accepted run.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// HandleStart validates the input, enforces the per-user quota, creates
// the session row, and detaches the pipeline. The reply never waits for
// any agent work.
func (h *ValidatorHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, r, types.ErrUnauthorized, "authentication required")
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "invalid JSON body")
		return
	}

	sanitized := SanitizeInput(req.InputText)
	// Bounds are in characters, not bytes; multi-byte input must not be
	// over-counted.
	chars := utf8.RuneCountInString(sanitized)
	if chars < h.minChars {
		WriteErrorMessage(w, r, types.ErrInvalidRequest,
			fmt.Sprintf("input text too short (min %d characters)", h.minChars))
		return
	}
	if chars > h.maxChars {
		WriteErrorMessage(w, r, types.ErrInvalidRequest,
			fmt.Sprintf("input text too long (max %d characters)", h.maxChars))
		return
	}

	decision, err := h.limiter.Allow(r.Context(), userID)
	if err != nil {
		// Quota backend outage fails open; losing rate limiting is
		// preferable to refusing all traffic.
		h.logger.Warn("quota check failed, allowing request", zap.Error(err))
	} else if !decision.Allowed {
		h.logger.Info("quota rejection", zap.String("user_id", userID))
		WriteRateLimited(w, r, decision.RetryAfter)
		return
	}

	session, err := h.store.CreateSession(r.Context(), userID, req.StartupID, sanitized)
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "could not create session")
		return
	}

	h.launcher.Launch(session, req.InterviewContext)

	h.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID))
	WriteSuccess(w, r, http.StatusAccepted, StartSessionResponse{
		SessionID: session.ID,
		Status:    string(session.Status),
	})
}

// AgentRunView is the audit row shape exposed by the status endpoint.
type AgentRunView struct {
	AgentName  string `json:"agent_name"`
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// SessionStatusResponse is the body of GET /api/v1/validator/sessions/{id}.
type SessionStatusResponse struct {
	SessionID    string         `json:"session_id"`
	Status       string         `json:"status"`
	FailedSteps  []string       `json:"failed_steps"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	ReportID     *string        `json:"report_id"`
	AgentRuns    []AgentRunView `json:"agent_runs"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// HandleStatus returns the session's current state. Pollers call this
// until the status leaves "running"; report_id is null until a report
// exists.
func (h *ValidatorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	runs, err := h.store.ListAgentRuns(r.Context(), session.ID)
	if err != nil {
		h.logger.Error("agent run list failed",
			zap.String("session_id", session.ID), zap.Error(err))
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "could not load session activity")
		return
	}

	resp := SessionStatusResponse{
		SessionID:    session.ID,
		Status:       string(session.Status),
		FailedSteps:  session.FailedSteps,
		ErrorMessage: session.ErrorMessage,
		AgentRuns:    make([]AgentRunView, 0, len(runs)),
		CreatedAt:    session.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    session.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if resp.FailedSteps == nil {
		resp.FailedSteps = []string{}
	}
	for _, run := range runs {
		view := AgentRunView{
			AgentName:  run.AgentName,
			Attempt:    run.Attempt,
			Status:     string(run.Status),
			DurationMs: run.DurationMs,
		}
		if run.Error != nil {
			view.Error = *run.Error
		}
		resp.AgentRuns = append(resp.AgentRuns, view)
	}

	if session.Status.Terminal() {
		report, err := h.store.GetReportBySession(r.Context(), session.ID)
		switch {
		case err == nil:
			resp.ReportID = &report.ID
		case errors.Is(err, store.ErrNotFound):
			// Partial and failed runs legitimately have no report.
		default:
			h.logger.Error("report lookup failed",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	WriteSuccess(w, r, http.StatusOK, resp)
}

// HandleReport returns a stored report by its ID.
func (h *ValidatorHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, r, types.ErrUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	report, err := h.store.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteErrorMessage(w, r, types.ErrReportNotFound, "report not found")
			return
		}
		h.logger.Error("report fetch failed", zap.String("report_id", id), zap.Error(err))
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "could not load report")
		return
	}

	session, err := h.store.GetSession(r.Context(), report.SessionID)
	if err != nil || session.UserID != userID {
		// Existence is not revealed to other users.
		WriteErrorMessage(w, r, types.ErrReportNotFound, "report not found")
		return
	}

	WriteSuccess(w, r, http.StatusOK, report)
}

// ownedSession loads the path session and enforces ownership. Sessions
// belonging to other users read as absent.
func (h *ValidatorHandler) ownedSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, r, types.ErrUnauthorized, "authentication required")
		return nil, false
	}

	id := r.PathValue("id")
	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteErrorMessage(w, r, types.ErrSessionNotFound, "session not found")
			return nil, false
		}
		h.logger.Error("session fetch failed", zap.String("session_id", id), zap.Error(err))
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "could not load session")
		return nil, false
	}
	if session.UserID != userID {
		WriteErrorMessage(w, r, types.ErrSessionNotFound, "session not found")
		return nil, false
	}
	return session, true
}

// SanitizeInput strips markup and surrounding whitespace from submitted
// text. Length limits are checked against the sanitized form.
func SanitizeInput(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}
