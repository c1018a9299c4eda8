package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/ventureflow/types"
)

// newMockStore backs the store with sqlmock so failure paths and the exact
// conditional-update shape can be asserted without a live postgres.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return New(gdb, zap.NewNop()), mock
}

func TestFinishSessionUpdateIsConditionalOnRunning(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "validator_sessions" SET .+ WHERE id = .+ AND status = .+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg := "failed agents: research"
	err := st.FinishSession(context.Background(), "sess-1", types.SessionPartial, []string{"research"}, &msg)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishSessionZeroRowsMeansAlreadyTerminal(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "validator_sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := st.FinishSession(context.Background(), "sess-1", types.SessionComplete, nil, nil)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestFinishSessionSurfacesDatabaseError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "validator_sessions"`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := st.FinishSession(context.Background(), "sess-1", types.SessionFailed, nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyTerminal)
	assert.Contains(t, err.Error(), "finish session")
}

func TestMarkFailedIfRunningSurfacesDatabaseError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "validator_sessions"`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	changed, err := st.MarkFailedIfRunning(context.Background(), "sess-1", "sweep")
	require.Error(t, err)
	assert.False(t, changed)
}
