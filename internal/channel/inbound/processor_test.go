package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/channel/channeltest"
	"github.com/memohai/modmail/internal/thread"
)

const guildID = "900000000000000001"

type harness struct {
	ctx       context.Context
	transport *channeltest.Transport
	manager   *thread.Manager
	processor *Processor
	category  channel.Channel
	user      channel.User
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := newUnpopulatedHarness(t, cfg)
	if err := h.manager.PopulateCache(h.ctx); err != nil {
		t.Fatalf("populate cache: %v", err)
	}
	return h
}

// newUnpopulatedHarness builds the harness as it stands right after a restart,
// before the registry has been rebuilt.
func newUnpopulatedHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	tr := channeltest.New(channel.User{ID: "100000000000000001", Username: "modmail", Bot: true})
	tr.AddGuild(channel.Guild{ID: guildID, Name: "Support"})
	category := tr.AddChannel(channel.Channel{GuildID: guildID, Name: "Modmail", Kind: channel.ChannelKindCategory})
	user := channel.User{ID: "200000000000000001", Username: "alice"}
	tr.AddUser(user, guildID)

	m := thread.NewManager(nil, tr, thread.Config{
		GuildID:        guildID,
		MainCategoryID: category.ID,
		ReadyTimeout:   time.Second,
		ConfirmTimeout: 100 * time.Millisecond,
	}, thread.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)

	return &harness{
		ctx:       ctx,
		transport: tr,
		manager:   m,
		processor: NewProcessor(nil, tr, m, cfg),
		category:  category,
		user:      user,
	}
}

func (h *harness) post(t *testing.T, author channel.User, content string) channel.Message {
	t.Helper()
	dm, err := h.transport.DirectChannel(h.ctx, author.ID)
	if err != nil {
		t.Fatalf("open direct channel: %v", err)
	}
	return h.transport.Post(dm.ID, author, content)
}

func hasReaction(tr *channeltest.Transport, messageID, emoji string) bool {
	for _, e := range tr.Reactions(messageID) {
		if e == emoji {
			return true
		}
	}
	return false
}

func TestHandleInboundOpensThreadAndRelays(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	first := h.post(t, h.user, "I cannot log in")
	if err := h.processor.HandleInbound(h.ctx, first); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	th := h.manager.Find(h.user.ID)
	if th == nil || !th.Ready() {
		t.Fatalf("expected ready thread")
	}
	last := h.transport.Messages(th.ChannelID())
	if got := last[len(last)-1].Embeds[0].Description; got != "I cannot log in" {
		t.Fatalf("expected relayed message, got %q", got)
	}
	if !hasReaction(h.transport, first.ID, SentEmoji) {
		t.Fatalf("expected sent receipt")
	}

	second := h.post(t, h.user, "Still stuck")
	if err := h.processor.HandleInbound(h.ctx, second); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if got := h.transport.CallCount("CreateChannel"); got != 1 {
		t.Fatalf("expected thread reuse, got %d channel creations", got)
	}
}

func TestHandleInboundIgnoresNonPrivateTraffic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	general := h.transport.AddChannel(channel.Channel{GuildID: guildID, Name: "general"})
	robot := channel.User{ID: "200000000000000077", Username: "robot", Bot: true}
	h.transport.AddUser(robot, guildID)

	tests := []struct {
		name string
		msg  channel.Message
	}{
		{name: "guild message", msg: h.transport.Post(general.ID, h.user, "hello")},
		{name: "bot author", msg: h.post(t, robot, "beep")},
		{name: "empty", msg: h.post(t, h.user, "   ")},
	}
	for _, tt := range tests {
		if err := h.processor.HandleInbound(h.ctx, tt.msg); err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
	}
	if h.manager.Len() != 0 {
		t.Fatalf("expected no threads, got %d", h.manager.Len())
	}
}

func TestHandleInboundRefusesBlockedUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BlockedUsers: []string{" 200000000000000001 "}})

	msg := h.post(t, h.user, "let me in")
	if err := h.processor.HandleInbound(h.ctx, msg); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if h.manager.Len() != 0 {
		t.Fatalf("blocked user must not open a thread")
	}
	if !hasReaction(h.transport, msg.ID, FailedEmoji) {
		t.Fatalf("expected failure receipt")
	}
	dm := h.transport.Messages(msg.ChannelID)
	notice := dm[len(dm)-1].Embeds[0]
	if notice.Description != defaultBlockedResponse {
		t.Fatalf("unexpected notice %q", notice.Description)
	}
}

func TestHandleInboundWithoutSharedContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	stranger := channel.User{ID: "200000000000000002", Username: "stranger"}
	h.transport.AddUser(stranger)

	msg := h.post(t, stranger, "hello?")
	if err := h.processor.HandleInbound(h.ctx, msg); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if got := h.transport.CallCount("CreateChannel"); got != 0 {
		t.Fatalf("expected no channel creation, got %d", got)
	}
	if !hasReaction(h.transport, msg.ID, FailedEmoji) {
		t.Fatalf("expected failure receipt")
	}
}

func TestHandleInboundDeclinedConfirmation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{ConfirmThreadCreation: true})
	h.transport.RespondToReactions(func(_, _, userID string, _ []string) (string, error) {
		if userID != h.user.ID {
			t.Errorf("expected confirmation from the sender, got %s", userID)
		}
		return thread.DenyEmoji, nil
	})

	msg := h.post(t, h.user, "actually never mind")
	if err := h.processor.HandleInbound(h.ctx, msg); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if h.manager.Find(h.user.ID) != nil {
		t.Fatalf("expected no live thread")
	}
	if hasReaction(h.transport, msg.ID, SentEmoji) {
		t.Fatalf("declined message must not be marked sent")
	}
}

func TestHandleInboundWaitsForRegistryRebuild(t *testing.T) {
	t.Parallel()
	h := newUnpopulatedHarness(t, Config{})
	existing := h.transport.AddChannel(channel.Channel{
		GuildID:  guildID,
		Name:     "alice",
		Topic:    thread.FormatTopic("", h.user.ID),
		ParentID: h.category.ID,
		Kind:     channel.ChannelKindText,
	})

	msg := h.post(t, h.user, "are you there?")
	done := make(chan error, 1)
	go func() { done <- h.processor.HandleInbound(h.ctx, msg) }()

	time.Sleep(50 * time.Millisecond)
	if got := h.transport.CallCount("CreateChannel"); got != 0 {
		t.Fatalf("expected no channel before the registry is rebuilt, got %d", got)
	}
	if err := h.manager.PopulateCache(h.ctx); err != nil {
		t.Fatalf("populate cache: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handle inbound: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound handling")
	}
	if got := h.transport.CallCount("CreateChannel"); got != 0 {
		t.Fatalf("expected the existing channel to be reused, got %d creations", got)
	}
	th := h.manager.Find(h.user.ID)
	if th == nil || th.ChannelID() != existing.ID {
		t.Fatalf("expected thread bound to %s", existing.ID)
	}
	last := h.transport.Messages(existing.ID)
	if len(last) == 0 || last[len(last)-1].Embeds[0].Description != "are you there?" {
		t.Fatalf("expected message relayed to the existing channel")
	}
}

func TestHandleInboundRefusesUnpopulatedRegistry(t *testing.T) {
	t.Parallel()
	h := newUnpopulatedHarness(t, Config{})

	msg := h.post(t, h.user, "hello")
	ctx, cancel := context.WithTimeout(h.ctx, 20*time.Millisecond)
	defer cancel()
	err := h.processor.HandleInbound(ctx, msg)
	if !errors.Is(err, thread.ErrRegistryNotPopulated) {
		t.Fatalf("expected registry error, got %v", err)
	}
	if got := h.transport.CallCount("CreateChannel"); got != 0 {
		t.Fatalf("expected no channel creation, got %d", got)
	}
	if !hasReaction(h.transport, msg.ID, FailedEmoji) {
		t.Fatalf("expected failure receipt")
	}
}

func TestDispatchPreservesSenderOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	const n = 8
	for i := 0; i < n; i++ {
		msg := h.post(t, h.user, fmt.Sprintf("part %d", i))
		if err := h.processor.Dispatch(h.ctx, msg); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	var relayed []string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		relayed = relayed[:0]
		if th := h.manager.Find(h.user.ID); th != nil && th.ChannelID() != "" {
			for _, m := range h.transport.Messages(th.ChannelID()) {
				if len(m.Embeds) > 0 && strings.HasPrefix(m.Embeds[0].Description, "part ") {
					relayed = append(relayed, m.Embeds[0].Description)
				}
			}
		}
		if len(relayed) == n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(relayed) != n {
		t.Fatalf("expected %d relayed messages, got %d", n, len(relayed))
	}
	for i, got := range relayed {
		if want := fmt.Sprintf("part %d", i); got != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, got)
		}
	}
	if got := h.transport.CallCount("CreateChannel"); got != 1 {
		t.Fatalf("expected one thread, got %d channel creations", got)
	}
}
