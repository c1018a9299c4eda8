// Package store persists validation sessions, the append-only agent run
// audit log, and composed reports.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ventureflow/types"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyTerminal indicates a session update was refused because
	// the session had already reached a terminal status. Session status
	// is monotonic; the conditional write is the enforcement point.
	ErrAlreadyTerminal = errors.New("store: session already terminal")
)

// Store wraps the gorm handle with the operations the pipeline needs.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// AutoMigrate creates the schema from the model structs. Production uses
// SQL migrations (cmd migrate); this is for sqlite-backed tests and local
// development.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&types.Session{}, &types.AgentRun{}, &types.Report{})
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// CreateSession inserts a new running session and returns it.
func (s *Store) CreateSession(ctx context.Context, userID string, startupID *string, inputText string) (*types.Session, error) {
	session := &types.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		StartupID:   startupID,
		InputText:   inputText,
		Status:      types.SessionRunning,
		FailedSteps: types.JSONStrings{},
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// FinishSession writes the terminal status for a session. The update is
// conditional on the session still being running, so a terminal status can
// never regress and concurrent writers cannot clobber each other.
func (s *Store) FinishSession(ctx context.Context, id string, status types.SessionStatus, failedSteps []string, errorMessage *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish session: %q is not a terminal status", status)
	}

	res := s.db.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ? AND status = ?", id, types.SessionRunning).
		Updates(map[string]any{
			"status":        status,
			"failed_steps":  types.JSONStrings(failedSteps),
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("finish session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// MarkFailedIfRunning is the crash-recovery write: it forces a session to
// failed only if it is still running, and reports whether anything changed.
// Used by the teardown sweep, where losing the race to a finishing runner
// is expected and must not clobber its result.
func (s *Store) MarkFailedIfRunning(ctx context.Context, id, message string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ? AND status = ?", id, types.SessionRunning).
		Updates(map[string]any{
			"status":        types.SessionFailed,
			"error_message": message,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark session failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// -----------------------------------------------------------------------------
// Agent runs
// -----------------------------------------------------------------------------

// InsertAgentRun appends one audit row.
func (s *Store) InsertAgentRun(ctx context.Context, run *types.AgentRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

// ListAgentRuns returns all audit rows for a session in insertion order.
func (s *Store) ListAgentRuns(ctx context.Context, sessionID string) ([]types.AgentRun, error) {
	var runs []types.AgentRun
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	return runs, nil
}

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// InsertReport writes the terminal report artifact. Assigns an id when the
// caller did not.
func (s *Store) InsertReport(ctx context.Context, report *types.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport fetches a report by id.
func (s *Store) GetReport(ctx context.Context, id string) (*types.Report, error) {
	var report types.Report
	err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// GetReportBySession fetches the report belonging to a session, if any.
func (s *Store) GetReportBySession(ctx context.Context, sessionID string) (*types.Report, error) {
	var report types.Report
	err := s.db.WithContext(ctx).First(&report, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report by session: %w", err)
	}
	return &report, nil
}
