package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/channel/channeltest"
	"github.com/memohai/modmail/internal/store"
)

const (
	testGuildID = "900000000000000001"
	testBotID   = "100000000000000001"
)

type memStore struct {
	mu       sync.Mutex
	opened   []store.ThreadLog
	closed   []store.CloseRecord
	settings map[string]string
	closures map[string]store.Closure
}

func newMemStore() *memStore {
	return &memStore{settings: map[string]string{}, closures: map[string]store.Closure{}}
}

func (s *memStore) RecordOpen(_ context.Context, log store.ThreadLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.ID = "log-" + log.RecipientID
	s.opened = append(s.opened, log)
	return log.ID, nil
}

func (s *memStore) RecordClose(_ context.Context, rec store.CloseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, rec)
	return nil
}

func (s *memStore) CountClosed(_ context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.closed {
		if rec.RecipientID == recipientID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Setting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key], nil
}

func (s *memStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *memStore) SaveClosure(_ context.Context, c store.Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closures[c.RecipientID+"/"+c.Kind] = c
	return nil
}

func (s *memStore) DeleteClosure(_ context.Context, recipientID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.closures {
		if c.RecipientID == recipientID && (kind == "" || c.Kind == kind) {
			delete(s.closures, key)
		}
	}
	return nil
}

func (s *memStore) ListClosures(_ context.Context) ([]store.Closure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Closure, 0, len(s.closures))
	for _, c := range s.closures {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) closureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closures)
}

func (s *memStore) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closed)
}

type fixture struct {
	ctx       context.Context
	transport *channeltest.Transport
	store     *memStore
	manager   *Manager
	category  channel.Channel
	logCh     channel.Channel
	user      channel.User
	staff     channel.User
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	tr := channeltest.New(channel.User{ID: testBotID, Username: "modmail"})
	tr.AddGuild(channel.Guild{ID: testGuildID, Name: "Support"})
	category := tr.AddChannel(channel.Channel{GuildID: testGuildID, Name: "Modmail", Kind: channel.ChannelKindCategory})
	logCh := tr.AddChannel(channel.Channel{GuildID: testGuildID, Name: "modmail-log"})

	user := channel.User{
		ID:        "200000000000000001",
		Username:  "Alice",
		CreatedAt: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	staff := channel.User{ID: "300000000000000001", Username: "bob"}
	tr.AddUser(user, testGuildID)
	tr.AddMember(channel.Member{User: staff, GuildID: testGuildID, RoleNames: []string{"Moderator"}})

	cfg := Config{
		GuildID:        testGuildID,
		MainCategoryID: category.ID,
		LogChannelID:   logCh.ID,
		ReadyTimeout:   time.Second,
		ConfirmTimeout: 100 * time.Millisecond,
		ShowTimestamp:  true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	st := newMemStore()
	m := NewManager(nil, tr, cfg, Options{Store: st})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)

	return &fixture{
		ctx:       ctx,
		transport: tr,
		store:     st,
		manager:   m,
		category:  category,
		logCh:     logCh,
		user:      user,
		staff:     staff,
	}
}

func (f *fixture) open(t *testing.T) *Thread {
	t.Helper()
	th, err := f.manager.Create(f.ctx, CreateRequest{Recipient: f.user})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if !th.Ready() {
		t.Fatalf("expected ready thread, got %s", th.State())
	}
	return th
}

// staffCommand posts a raw staff message in the thread channel.
func (f *fixture) staffCommand(th *Thread, content string, attachments ...channel.Attachment) channel.Message {
	return f.transport.Post(th.ChannelID(), f.staff, content, attachments...)
}

func (f *fixture) dmMessages() []channel.Message {
	return f.transport.Messages(f.transport.DirectChannelID(f.user.ID))
}

func lastMessage(t *testing.T, msgs []channel.Message) channel.Message {
	t.Helper()
	if len(msgs) == 0 {
		t.Fatalf("expected messages, got none")
	}
	return msgs[len(msgs)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
