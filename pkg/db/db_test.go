package db

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so every pooled connection sees the same in-memory database.
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb
}

type fakeMigrator struct {
	calls *int32
	err   error
}

func (m fakeMigrator) AutoMigrate() error {
	atomic.AddInt32(m.calls, 1)
	return m.err
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(&DBConfig{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestOpen_SQLite(t *testing.T) {
	cfg := DefaultDBConfig()
	cfg.DSN = "file::memory:"
	gdb, err := Open(cfg)
	require.NoError(t, err)
	assert.NoError(t, Ping(context.Background(), gdb))
}

func TestMigrate_RunsAllStores(t *testing.T) {
	var calls int32
	locker := NewMigrationLocker(newTestDB(t), true)

	err := Migrate(context.Background(), locker, fakeMigrator{calls: &calls}, fakeMigrator{calls: &calls})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)

	err = Migrate(context.Background(), locker,
		fakeMigrator{calls: &calls, err: errors.New("bad column")}, fakeMigrator{calls: &calls})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls, "migration stops at the first failing store")
}

func TestNewMigrationLocker_Disabled(t *testing.T) {
	_, ok := NewMigrationLocker(newTestDB(t), false).(noopLock)
	assert.True(t, ok)
	_, ok = NewMigrationLocker(nil, true).(noopLock)
	assert.True(t, ok)
}

func TestRowLock_ReleasedAfterError(t *testing.T) {
	gdb := newTestDB(t)
	locker := NewMigrationLocker(gdb, true)

	err := locker.WithLock(context.Background(), func() error { return errors.New("migration failed") })
	require.EqualError(t, err, "migration failed")

	var count int64
	gdb.Model(&migrationLockRecord{}).Count(&count)
	assert.Zero(t, count)
}

func TestRowLock_HeldLockTimesOut(t *testing.T) {
	gdb := newTestDB(t)
	lock := newRowLock(gdb)
	lock.attempts = 2
	lock.retryEvery = 10 * time.Millisecond
	require.NoError(t, gdb.Create(&migrationLockRecord{
		ID: migrationLockID, Holder: "other-replica", LockedAt: time.Now(),
	}).Error)

	called := false
	err := lock.WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not acquired after 2 attempts")
	assert.False(t, called)

	var row migrationLockRecord
	require.NoError(t, gdb.First(&row, "id = ?", migrationLockID).Error)
	assert.Equal(t, "other-replica", row.Holder, "a foreign lock is never released")
}

func TestRowLock_TakesOverStaleLock(t *testing.T) {
	gdb := newTestDB(t)
	lock := newRowLock(gdb)
	lock.attempts = 1
	require.NoError(t, gdb.Create(&migrationLockRecord{
		ID: migrationLockID, Holder: "crashed", LockedAt: time.Now().Add(-time.Hour),
	}).Error)

	called := false
	require.NoError(t, lock.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
