package discord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memohai/modmail/internal/channel"
)

func TestAwaitReactionMatchesUserAndEmoji(t *testing.T) {
	t.Parallel()

	a := newAdapter(nil, newFakeAPI())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan channel.Reaction, 1)
	go func() {
		r, err := a.AwaitReaction(ctx, "c1", "m1", "u1", []string{"✅", "❌"})
		if err == nil {
			done <- r
		}
	}()

	deadline := time.Now().Add(time.Second)
	for {
		a.mu.RLock()
		n := len(a.waiters[reactionKey("c1", "m1")])
		a.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("waiter not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if a.dispatchReaction(channel.Reaction{ChannelID: "c1", MessageID: "m1", UserID: "u2", Emoji: "✅"}) {
		t.Fatal("expected other user to be ignored")
	}
	if a.dispatchReaction(channel.Reaction{ChannelID: "c1", MessageID: "m1", UserID: "u1", Emoji: "👍"}) {
		t.Fatal("expected other emoji to be ignored")
	}
	if !a.dispatchReaction(channel.Reaction{ChannelID: "c1", MessageID: "m1", UserID: "u1", Emoji: "❌"}) {
		t.Fatal("expected reaction to be delivered")
	}

	select {
	case r := <-done:
		if r.Emoji != "❌" {
			t.Fatalf("expected ❌, got %s", r.Emoji)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reaction")
	}
}

func TestAwaitReactionTimeout(t *testing.T) {
	t.Parallel()

	a := newAdapter(nil, newFakeAPI())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.AwaitReaction(ctx, "c1", "m1", "u1", []string{"✅"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.waiters) != 0 {
		t.Fatalf("expected waiter removed, got %d", len(a.waiters))
	}
}
