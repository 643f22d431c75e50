package notify

import (
	"context"
	"errors"
	"net/smtp"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func testConfig() *NotifyConfig {
	cfg := DefaultNotifyConfig()
	cfg.Workers = 1
	cfg.QueueSize = 2
	cfg.SendTimeout = time.Second
	return cfg
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, testConfig(), nil)
	d.Start()

	d.Notify(context.Background(), Message{Kind: "k", To: []string{"a@example.com"}, Subject: "one"})
	d.Notify(context.Background(), Message{Kind: "k", To: nil, Subject: "no recipients"})
	d.Close()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "one", sender.sent[0].Subject)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, testConfig(), nil)
	// Not started: the queue holds two messages and the third is dropped.
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), Message{To: []string{"a@example.com"}})
	}
	d.Start()
	d.Close()
	assert.Len(t, sender.sent, 2)
}

func TestDispatcher_SendErrorIsSwallowed(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, testConfig(), nil)
	d.Start()
	d.Notify(context.Background(), Message{To: []string{"a@example.com"}})
	d.Close()
	assert.Len(t, sender.sent, 1)
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, testConfig(), nil)
	d.Start()
	d.Close()

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), Message{To: []string{"a@example.com"}, Subject: "late"})
	})
	d.Close()
	assert.Empty(t, sender.sent)
}

func TestDispatcher_ConcurrentNotifyAndClose(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, testConfig(), nil)
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Notify(context.Background(), Message{To: []string{"a@example.com"}})
			}
		}()
	}
	d.Close()
	wg.Wait()
}

func TestMailer_Send(t *testing.T) {
	m := NewMailer(SMTPConfig{Host: "mail.local", Port: "25", From: "noreply@example.com", FromName: "Docflow"})
	require.True(t, m.IsConfigured())

	var gotAddr string
	var gotBody []byte
	m.send = func(addr string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotAddr = addr
		gotBody = msg
		return nil
	}

	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Hi\r\nBcc: x", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:25", gotAddr)
	assert.Contains(t, string(gotBody), "Subject: Hi  Bcc: x\r\n")
	assert.Contains(t, string(gotBody), "From: Docflow <noreply@example.com>")

	assert.Error(t, NewMailer(SMTPConfig{}).Send(context.Background(), Message{To: []string{"a@example.com"}}))
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admins: [ops@example.com]
roles:
  Manager: [m1@example.com, m2@example.com]
departments:
  - company: acme
    department: finance
    members: [f1@example.com]
users:
  u-42: u42@example.com
`), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	ctx := context.Background()

	admins, _ := dir.Admins(ctx)
	assert.Equal(t, []string{"ops@example.com"}, admins)
	managers, _ := dir.ForRole(ctx, "manager")
	assert.Len(t, managers, 2)
	members, _ := dir.ForDepartment(ctx, "ACME", "Finance")
	assert.Equal(t, []string{"f1@example.com"}, members)
	user, _ := dir.ForUser(ctx, "u-42")
	assert.Equal(t, []string{"u42@example.com"}, user)

	empty, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	none, _ := empty.Admins(ctx)
	assert.Empty(t, none)
}
