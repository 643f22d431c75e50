package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/storage"
)

var (
	owner    = authz.Actor{ID: "u-owner", Role: authz.RoleUser, Company: "acme", Department: "finance"}
	admin    = authz.Actor{ID: "u-admin", Role: authz.RoleAdmin, Company: "acme"}
	manager  = authz.Actor{ID: "u-manager", Role: authz.RoleManager, Company: "acme", Department: "finance"}
	ceo      = authz.Actor{ID: "u-ceo", Role: authz.RoleCEO, Company: "acme"}
	outsider = authz.Actor{ID: "u-out", Role: authz.RoleUser, Company: "globex", Department: "finance"}
)

// flakyStorage wraps a FileStorage and fails writes on demand. With
// partial set the payload is stored before the write reports failure.
type flakyStorage struct {
	storage.FileStorage
	mu        sync.Mutex
	failWrite bool
	partial   bool
	lastKey   string
}

func (f *flakyStorage) setFailWrite(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = v
}

func (f *flakyStorage) setPartialWrite(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite, f.partial = v, v
}

func (f *flakyStorage) lastWritten() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

func (f *flakyStorage) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	f.mu.Lock()
	fail, partial := f.failWrite, f.partial
	f.lastKey = key
	f.mu.Unlock()
	if partial {
		if _, err := f.FileStorage.Write(ctx, key, io.LimitReader(r, 2)); err != nil {
			return 0, err
		}
	}
	if fail {
		return 0, errors.New("disk full")
	}
	return f.FileStorage.Write(ctx, key, r)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	files    *flakyStorage
	audit    *audit.Store
	docs     *DocumentStore
	versions *VersionStore
	steps    *StepEngine
	notes    *notify.Recorder
	clock    *clock
}

var testDirectory = notify.DirectoryFile{
	Admins: []string{"ops@acme.test"},
	Roles: map[string][]string{
		"admin":   {"admin@acme.test"},
		"manager": {"manager@acme.test"},
		"ceo":     {"ceo@acme.test"},
	},
	Departments: []notify.DepartmentEntry{
		{Company: "acme", Department: "finance", Members: []string{"f1@acme.test", "f2@acme.test"}},
	},
	Users: map[string]string{"u-owner": "owner@acme.test"},
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// Every pooled connection to ":memory:" would get its own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := newTestDB(t)
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		db:    db,
		files: &flakyStorage{FileStorage: local},
		audit: audit.NewStore(db),
		notes: &notify.Recorder{},
		clock: &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	base := []Option{
		WithClock(env.clock.Now),
		WithNotifier(env.notes, notify.NewStaticDirectory(testDirectory)),
	}
	opts = append(base, opts...)
	env.docs = NewDocumentStore(db, env.audit, opts...)
	env.versions = NewVersionStore(db, env.files, env.audit, opts...)
	env.steps = NewStepEngine(db, env.audit, opts...)

	require.NoError(t, env.docs.AutoMigrate())
	require.NoError(t, env.audit.AutoMigrate())
	return env
}

func (env *testEnv) createDocument(t *testing.T, title string) *DocumentRecord {
	t.Helper()
	doc, err := env.docs.Create(context.Background(), DocumentInput{
		Title:      title,
		Company:    "acme",
		Department: "finance",
	}, owner)
	require.NoError(t, err)
	return doc
}

func (env *testEnv) upload(t *testing.T, docID, body string) *VersionRecord {
	t.Helper()
	env.clock.Advance(time.Minute)
	v, err := env.versions.AddVersion(context.Background(), AddVersionInput{
		DocumentID:  docID,
		Filename:    "report.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader(body),
		Uploader:    owner,
	})
	require.NoError(t, err)
	return v
}

func (env *testEnv) activeVersions(t *testing.T, docID string) []VersionRecord {
	t.Helper()
	var vs []VersionRecord
	require.NoError(t, env.db.Where("document_id = ? AND active = ?", docID, true).Find(&vs).Error)
	return vs
}

func (env *testEnv) auditCount(t *testing.T, docID, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&audit.EventRecord{}).
		Where("document_id = ? AND event_type = ?", docID, eventType).Count(&n).Error)
	return n
}
