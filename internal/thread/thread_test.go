package thread

import (
	"strings"
	"testing"
	"time"

	"github.com/memohai/modmail/internal/channel"
)

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := f.open(t)
	chID := th.ChannelID()

	for i := 0; i < 2; i++ {
		if err := th.Close(f.ctx, CloseOptions{Closer: f.staff}); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	if got := f.transport.CallCount("DeleteChannel"); got != 1 {
		t.Fatalf("expected 1 channel deletion, got %d", got)
	}
	if _, ok := f.transport.Channel(chID); ok {
		t.Fatalf("expected thread channel deleted")
	}
	if f.store.closeCount() != 1 {
		t.Fatalf("expected 1 close record, got %d", f.store.closeCount())
	}
	if th.State() != StateClosed || f.manager.Find(f.user.ID) != nil {
		t.Fatalf("expected closed and evicted thread, got %s", th.State())
	}

	notice := lastMessage(t, f.dmMessages()).Embeds[0]
	if notice.Title != "Thread Closed" || notice.Footer == nil || notice.Footer.Text != "Replying will create a new thread" {
		t.Fatalf("unexpected close notice: %+v", notice)
	}
	summary := lastMessage(t, f.transport.Messages(f.logCh.ID)).Embeds[0]
	if summary.Title != "Thread closed" || !strings.Contains(summary.Description, f.staff.Mention()) {
		t.Fatalf("unexpected log summary: %+v", summary)
	}
}

func TestCloseSilently(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := f.open(t)

	if err := th.Close(f.ctx, CloseOptions{Closer: f.staff, Silent: true}); err != nil {
		t.Fatalf("close: %v", err)
	}
	last := lastMessage(t, f.dmMessages()).Embeds[0]
	if last.Title != "Thread Created" {
		t.Fatalf("expected no close notice for the recipient, got %q", last.Title)
	}
}

func TestScheduledCloseCanBeCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := f.open(t)

	err := th.Close(f.ctx, CloseOptions{Closer: f.staff, After: 5 * time.Minute, Message: "We will follow up."})
	if err != nil {
		t.Fatalf("schedule close: %v", err)
	}
	if th.State() != StateClosing {
		t.Fatalf("expected closing, got %s", th.State())
	}
	if !th.Ready() {
		t.Fatalf("closing thread must still accept traffic")
	}
	at, ok := th.ClosesAt(ClosureManual)
	if !ok || time.Until(at) < 4*time.Minute {
		t.Fatalf("expected close in about 5 minutes, got %v %v", at, ok)
	}
	if f.store.closureCount() != 1 {
		t.Fatalf("expected persisted closure, got %d", f.store.closureCount())
	}
	notice := lastMessage(t, f.transport.Messages(th.ChannelID())).Embeds[0]
	if notice.Title != "Scheduled close" || len(notice.Fields) != 1 || notice.Fields[0].Value != "We will follow up." {
		t.Fatalf("unexpected schedule notice: %+v", notice)
	}

	if !th.CancelClosure(f.ctx, false, false) {
		t.Fatalf("expected a closure to cancel")
	}
	if th.State() != StateReady {
		t.Fatalf("expected ready, got %s", th.State())
	}
	if _, ok := th.ClosesAt(ClosureManual); ok {
		t.Fatalf("expected no pending close")
	}
	if f.store.closureCount() != 0 {
		t.Fatalf("expected persisted closure removed, got %d", f.store.closureCount())
	}
	if _, ok := f.transport.Channel(th.ChannelID()); !ok {
		t.Fatalf("expected thread channel to remain")
	}
	if th.CancelClosure(f.ctx, false, false) {
		t.Fatalf("expected nothing left to cancel")
	}
}

func TestScheduledCloseFires(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := f.open(t)
	chID := th.ChannelID()

	if err := th.Close(f.ctx, CloseOptions{Closer: f.staff, After: 20 * time.Millisecond, Message: "Bye"}); err != nil {
		t.Fatalf("schedule close: %v", err)
	}
	waitFor(t, "scheduled close", func() bool {
		_, ok := f.transport.Channel(chID)
		return !ok
	})
	if th.State() != StateClosed {
		t.Fatalf("expected closed, got %s", th.State())
	}
	notice := lastMessage(t, f.dmMessages()).Embeds[0]
	if notice.Description != "Bye" {
		t.Fatalf("expected closing message, got %q", notice.Description)
	}
}

func TestCloseOnClosedThreadIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := f.open(t)
	if err := th.Close(f.ctx, CloseOptions{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := th.Close(f.ctx, CloseOptions{After: time.Minute}); err != nil {
		t.Fatalf("schedule on closed thread: %v", err)
	}
	if f.store.closureCount() != 0 || f.manager.Scheduler().Len() != 0 {
		t.Fatalf("expected nothing scheduled")
	}
}

func TestIdleTimer(t *testing.T) {
	t.Parallel()

	t.Run("re-armed on activity", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *Config) { c.IdleTimeout = time.Hour })
		th := f.open(t)

		first, ok := th.ClosesAt(ClosureIdle)
		if !ok {
			t.Fatalf("expected idle close armed on open")
		}
		if th.State() != StateReady {
			t.Fatalf("idle close must not mark the thread closing, got %s", th.State())
		}
		time.Sleep(5 * time.Millisecond)
		th.ResetIdleTimer(f.ctx)
		second, _ := th.ClosesAt(ClosureIdle)
		if !second.After(first) {
			t.Fatalf("expected idle close pushed back, %v then %v", first, second)
		}
		if f.manager.Scheduler().Len() != 1 || f.store.closureCount() != 1 {
			t.Fatalf("expected a single idle closure")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		th := f.open(t)
		th.ResetIdleTimer(f.ctx)
		if _, ok := th.ClosesAt(ClosureIdle); ok {
			t.Fatalf("expected no idle close")
		}
	})

	t.Run("fires", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *Config) { c.IdleTimeout = 30 * time.Millisecond })
		th := f.open(t)
		chID := th.ChannelID()

		waitFor(t, "idle close", func() bool {
			_, ok := f.transport.Channel(chID)
			return !ok
		})
		notice := lastMessage(t, f.dmMessages()).Embeds[0]
		if notice.Description != f.manager.Config().AutoCloseResponse {
			t.Fatalf("expected auto close response, got %q", notice.Description)
		}
		summary := lastMessage(t, f.transport.Messages(f.logCh.ID)).Embeds[0]
		if !strings.Contains(summary.Description, "inactivity") {
			t.Fatalf("unexpected log summary: %q", summary.Description)
		}
	})
}

func TestWaitUntilReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := newThread(f.manager, "200000000000000050")

	start := time.Now()
	if th.WaitUntilReady(f.ctx, 20*time.Millisecond) {
		t.Fatalf("pending thread must not report ready")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected wait to last the timeout")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		th.markReady(channel.Channel{ID: "1200000000000000000"})
	}()
	if !th.WaitUntilReady(f.ctx, time.Second) {
		t.Fatalf("expected thread to become ready")
	}
	if th.ChannelID() != "1200000000000000000" {
		t.Fatalf("unexpected channel %q", th.ChannelID())
	}
}

func TestRecipientFallsBackToID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	th := newThread(f.manager, "200000000000000060")
	u := th.Recipient(f.ctx)
	if u.ID != "200000000000000060" || u.Username != "" {
		t.Fatalf("unexpected recipient: %+v", u)
	}
}
