package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/config"
)

func TestApplyPoolDefaults(t *testing.T) {
	got := applyPoolDefaults(config.DatabaseConfig{})
	assert.Equal(t, 5, got.MaxIdleConns)
	assert.Equal(t, 25, got.MaxOpenConns)
	assert.Equal(t, time.Hour, got.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, got.ConnMaxIdleTime)

	// Explicit sizing is kept as given.
	got = applyPoolDefaults(config.DatabaseConfig{
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	assert.Equal(t, 1, got.MaxIdleConns)
	assert.Equal(t, 1, got.MaxOpenConns)
	assert.Equal(t, time.Minute, got.ConnMaxLifetime)
	assert.Equal(t, time.Minute, got.ConnMaxIdleTime)
}

type poolSchemaRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestOpenZeroSizingKeepsMemorySchemaAlive(t *testing.T) {
	// Zero-valued sizing must not translate into SetMaxIdleConns(0): on
	// an in-memory sqlite database that discards the schema between
	// pooled checkouts.
	pool, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, pool.DB().AutoMigrate(&poolSchemaRow{}))
	require.NoError(t, pool.DB().Create(&poolSchemaRow{Name: "first"}).Error)

	var rows []poolSchemaRow
	require.NoError(t, pool.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Name)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestPoolPing(t *testing.T) {
	pool, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	assert.NoError(t, pool.Ping(context.Background()))
}
