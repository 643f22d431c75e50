package detect

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/workflow"
)

var t0 = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

type testEnv struct {
	db        *gorm.DB
	audit     *audit.Store
	alerts    *AlertStore
	downloads *DownloadLog
	cooldowns *access.CooldownStore
	notes     *notify.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:        db,
		audit:     audit.NewStore(db),
		downloads: NewDownloadLog(db),
		cooldowns: access.NewCooldownStore(db),
		notes:     &notify.Recorder{},
	}
	env.alerts = NewAlertStore(db, env.audit)
	env.alerts.now = func() time.Time { return t0 }
	require.NoError(t, env.audit.AutoMigrate())
	require.NoError(t, env.alerts.AutoMigrate())
	require.NoError(t, db.AutoMigrate(access.AllModels()...))
	return env
}

func (env *testEnv) detector(rules []Rule, opts ...Option) *Detector {
	base := []Option{
		WithClock(func() time.Time { return t0 }),
		WithCooldownSink(env.cooldowns),
		WithNotifier(env.notes, notify.NewStaticDirectory(notify.DirectoryFile{
			Admins: []string{"security@acme.test"},
		})),
	}
	return NewDetector(env.db, env.audit, rules, append(base, opts...)...)
}

func (env *testEnv) request(t *testing.T, user, doc string, status access.RequestStatus, ip string, at time.Time) {
	t.Helper()
	require.NoError(t, env.db.Create(&access.RequestRecord{
		ID:          uuid.New().String(),
		RequesterID: user,
		DocumentID:  doc,
		Status:      status,
		IPAddress:   ip,
		UserAgent:   "test-agent",
		CreatedAt:   at.UTC(),
	}).Error)
}

func (env *testEnv) download(t *testing.T, user, ip string, at time.Time) {
	t.Helper()
	require.NoError(t, env.downloads.RecordDownload(context.Background(), workflow.Download{
		UserID:     user,
		DocumentID: "doc-1",
		VersionID:  "ver-1",
		IPAddress:  ip,
		Success:    true,
		At:         at,
	}))
}

func (env *testEnv) allAlerts(t *testing.T) []AlertRecord {
	t.Helper()
	var out []AlertRecord
	require.NoError(t, env.db.Order("created_at").Order("rule_id").Find(&out).Error)
	return out
}
