package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/cache"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/workflow"
)

var (
	docOwner  = authz.Actor{ID: "u-owner", Role: authz.RoleUser, Company: "acme", Department: "finance"}
	admin     = authz.Actor{ID: "u-admin", Role: authz.RoleAdmin, Company: "acme"}
	colleague = authz.Actor{ID: "u-colleague", Role: authz.RoleUser, Company: "acme", Department: "finance"}
	manager   = authz.Actor{ID: "u-manager", Role: authz.RoleManager, Company: "acme", Department: "sales"}
	stranger  = authz.Actor{ID: "u-stranger", Role: authz.RoleGuest, Company: "globex", Department: "ops"}
)

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
	docs      *workflow.DocumentStore
	policies  *PolicyStore
	cooldowns *CooldownStore
	service   *Service
	notes     *notify.Recorder
	clock     *clock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:        db,
		audit:     audit.NewStore(db),
		notes:     &notify.Recorder{},
		clock:     &clock{now: time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)},
		cooldowns: NewCooldownStore(db),
	}
	env.docs = workflow.NewDocumentStore(db, env.audit)
	env.policies = NewPolicyStore(db, env.audit, &cache.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
	env.policies.now = env.clock.Now

	require.NoError(t, env.docs.AutoMigrate())
	require.NoError(t, env.audit.AutoMigrate())
	require.NoError(t, env.policies.AutoMigrate())

	base := []Option{
		WithClock(env.clock.Now),
		WithNotifier(env.notes, notify.NewStaticDirectory(notify.DirectoryFile{
			Admins: []string{"ops@acme.test"},
			Users: map[string]string{
				"u-owner":     "owner@acme.test",
				"u-colleague": "colleague@acme.test",
			},
		})),
	}
	evaluator := NewEvaluator(&cache.CacheConfig{Enabled: true, MaxSize: 50}, nil)
	env.service = NewService(db, env.docs, env.policies, evaluator, env.cooldowns, env.audit, append(base, opts...)...)
	return env
}

func (env *testEnv) createDocument(t *testing.T, tags ...string) *workflow.DocumentRecord {
	t.Helper()
	doc, err := env.docs.Create(context.Background(), workflow.DocumentInput{
		Title:      "Budget 2026",
		Company:    "acme",
		Department: "finance",
		Visibility: workflow.VisibilityPrivate,
		Tags:       tags,
	}, docOwner)
	require.NoError(t, err)
	return doc
}

// addPolicy creates and activates a policy.
func (env *testEnv) addPolicy(t *testing.T, name string, typ ConditionType, cond string, action Action, priority int) *PolicyRecord {
	t.Helper()
	ctx := context.Background()
	p, err := env.policies.Create(ctx, PolicyInput{
		Name:          name,
		ConditionType: typ,
		Condition:     cond,
		Action:        action,
		Priority:      priority,
	}, admin)
	require.NoError(t, err)
	p, err = env.policies.Activate(ctx, p.ID, admin)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	return p
}

func (env *testEnv) submit(t *testing.T, actor authz.Actor, docID string) *RequestRecord {
	t.Helper()
	req, err := env.service.Submit(context.Background(), SubmitInput{DocumentID: docID, Requester: actor, Note: "quarterly review"})
	require.NoError(t, err)
	return req
}

func (env *testEnv) auditEvents(t *testing.T, eventType string) []audit.EventRecord {
	t.Helper()
	var events []audit.EventRecord
	require.NoError(t, env.db.Where("event_type = ?", eventType).Order("created_at").Find(&events).Error)
	return events
}
