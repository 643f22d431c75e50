package db

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serialises schema migrations between replicas sharing a
// database.
type MigrationLocker interface {
	// WithLock runs fn while holding the lock and always releases it.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a lock implementation for the dialect of gdb:
// a session advisory lock on PostgreSQL, a lock row elsewhere.
// A nil gdb or enabled=false yields a lock that just runs fn.
func NewMigrationLocker(gdb *gorm.DB, enabled bool) MigrationLocker {
	if gdb == nil || !enabled {
		return noopLock{}
	}
	if gdb.Dialector.Name() == TypePostgres {
		return &advisoryLock{db: gdb, key: int64(crc32.ChecksumIEEE([]byte("docflow-migration")))}
	}
	return newRowLock(gdb)
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock holds pg_advisory_lock on a dedicated connection so that the
// unlock runs on the same session that acquired it.
type advisoryLock struct {
	db  *gorm.DB
	key int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration lock: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.key); err != nil {
		return fmt.Errorf("migration lock: acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
	}()

	return fn()
}

// migrationLockRecord is the single lock row used off PostgreSQL.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Holder   string    `gorm:"column:holder"`
	LockedAt time.Time `gorm:"column:locked_at"`
}

func (migrationLockRecord) TableName() string { return "docflow_migration_lock" }

const migrationLockID = "schema"

// rowLock inserts the lock row and treats a primary-key violation as
// "held by someone else". Rows older than staleAfter are taken over so a
// crashed holder cannot block migrations forever.
type rowLock struct {
	db         *gorm.DB
	holder     string
	attempts   int
	retryEvery time.Duration
	staleAfter time.Duration
}

func newRowLock(gdb *gorm.DB) *rowLock {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}
	// Created eagerly so the first WithLock never races on a missing table.
	_ = gdb.AutoMigrate(&migrationLockRecord{})
	return &rowLock{
		db:         gdb,
		holder:     fmt.Sprintf("%s/%d", holder, os.Getpid()),
		attempts:   30,
		retryEvery: time.Second,
		staleAfter: 5 * time.Minute,
	}
}

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.db.Where("id = ? AND holder = ?", migrationLockID, l.holder).Delete(&migrationLockRecord{})
	return fn()
}

func (l *rowLock) acquire(ctx context.Context) error {
	var lastErr error
	for i := 0; i < l.attempts; i++ {
		tx := l.db.WithContext(ctx)
		tx.Where("id = ? AND locked_at < ?", migrationLockID, time.Now().Add(-l.staleAfter)).
			Delete(&migrationLockRecord{})

		lastErr = tx.Create(&migrationLockRecord{ID: migrationLockID, Holder: l.holder, LockedAt: time.Now()}).Error
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
	return fmt.Errorf("migration lock: not acquired after %d attempts: %w", l.attempts, lastErr)
}
