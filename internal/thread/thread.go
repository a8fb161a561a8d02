package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/event"
	"github.com/memohai/modmail/internal/metrics"
	"github.com/memohai/modmail/internal/store"
)

// Thread binds one recipient to one staff channel.
type Thread struct {
	manager   *Manager
	id        string
	createdAt time.Time

	mu        sync.RWMutex
	state     State
	recipient *channel.User
	channel   *channel.Channel
	creator   channel.User
	logID     string

	ready     chan struct{}
	readyOnce sync.Once
}

func newThread(m *Manager, recipientID string) *Thread {
	return &Thread{
		manager:   m,
		id:        recipientID,
		createdAt: m.now(),
		state:     StatePending,
		ready:     make(chan struct{}),
	}
}

// ID returns the recipient id the thread is keyed by.
func (t *Thread) ID() string {
	return t.id
}

// State returns the current lifecycle state.
func (t *Thread) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Ready reports whether a staff channel is bound and relay traffic is accepted.
func (t *Thread) Ready() bool {
	s := t.State()
	return s == StateReady || s == StateClosing
}

// Cancelled reports whether creation was declined or timed out.
func (t *Thread) Cancelled() bool {
	return t.State() == StateCancelled
}

// Channel returns the bound staff channel.
func (t *Thread) Channel() (channel.Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.channel == nil {
		return channel.Channel{}, false
	}
	return *t.channel, true
}

// ChannelID returns the bound staff channel id, or "".
func (t *Thread) ChannelID() string {
	ch, _ := t.Channel()
	return ch.ID
}

// Recipient returns the recipient profile, fetching it on first use.
// An unreachable recipient yields a profile carrying only the id.
func (t *Thread) Recipient(ctx context.Context) channel.User {
	t.mu.RLock()
	cached := t.recipient
	t.mu.RUnlock()
	if cached != nil {
		return *cached
	}
	u, err := t.manager.transport.User(ctx, t.id)
	if err != nil {
		t.manager.logger.Debug("recipient lookup failed", slog.String("recipient", t.id), slog.Any("error", err))
		return channel.User{ID: t.id}
	}
	t.setRecipient(u)
	return u
}

func (t *Thread) setRecipient(u channel.User) {
	if u.IsZero() {
		return
	}
	t.mu.Lock()
	t.recipient = &u
	t.mu.Unlock()
}

// WaitUntilReady blocks until the thread is ready, ctx is done or timeout elapses.
// A non-positive timeout uses the configured ready timeout. It returns whether the
// thread is ready; callers proceed best effort when it is not.
func (t *Thread) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = t.manager.cfg.ReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.ready:
	case <-timer.C:
	case <-ctx.Done():
	}
	return t.Ready()
}

func (t *Thread) markReady(ch channel.Channel) {
	t.mu.Lock()
	t.channel = &ch
	if t.state == StatePending {
		t.state = StateReady
	}
	t.mu.Unlock()
	t.release()
}

func (t *Thread) markCancelled() {
	t.mu.Lock()
	if t.state == StatePending {
		t.state = StateCancelled
	}
	t.mu.Unlock()
	t.release()
}

// transition moves from one state to another and reports whether it happened.
func (t *Thread) transition(from, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	return true
}

func (t *Thread) release() {
	t.readyOnce.Do(func() { close(t.ready) })
}

func (t *Thread) logValue() slog.Attr {
	return slog.Group("thread",
		slog.String("recipient", t.id),
		slog.String("channel", t.ChannelID()),
		slog.String("state", t.State().String()),
	)
}

// CloseOptions configures Close.
type CloseOptions struct {
	// Closer is credited with the close. Zero means the bot.
	Closer channel.User
	// After delays the close. Zero closes immediately.
	After   time.Duration
	Message string
	Silent  bool
	// Auto marks the inactivity close.
	Auto bool
}

func (o CloseOptions) kind() ClosureKind {
	if o.Auto {
		return ClosureIdle
	}
	return ClosureManual
}

// Close closes the thread now, or schedules the close when opts.After is positive.
// Closing a thread that has already left the registry is a no-op.
func (t *Thread) Close(ctx context.Context, opts CloseOptions) error {
	if opts.After > 0 {
		return t.scheduleClose(ctx, opts)
	}
	return t.closeNow(ctx, opts)
}

func (t *Thread) closeJob(opts CloseOptions) Job {
	opts.After = 0
	return func(ctx context.Context) {
		if err := t.Close(ctx, opts); err != nil {
			t.manager.logger.Error("scheduled close failed", t.logValue(), slog.Any("error", err))
		}
	}
}

func (t *Thread) scheduleClose(ctx context.Context, opts CloseOptions) error {
	m := t.manager
	switch t.State() {
	case StateClosed, StateCancelled:
		m.logger.Debug("ignoring close on finished thread", t.logValue())
		return nil
	}
	kind := opts.kind()
	now := m.now()
	fireAt := now.Add(opts.After)
	m.scheduler.Schedule(t.id, kind, opts.After, t.closeJob(opts))
	if err := m.store.SaveClosure(ctx, store.Closure{
		RecipientID: t.id,
		Kind:        string(kind),
		FireAt:      fireAt,
		CloserID:    opts.Closer.ID,
		Message:     opts.Message,
		Silent:      opts.Silent,
	}); err != nil {
		m.logger.Warn("persist closure failed", t.logValue(), slog.Any("error", err))
	}
	if opts.Auto {
		return nil
	}

	t.transition(StateReady, StateClosing)
	notice := channel.Embed{
		Title:       "Scheduled close",
		Description: fmt.Sprintf("This thread will close %s.", humanize.RelTime(fireAt, now, "ago", "from now")),
		Color:       m.cfg.Colors.Error,
		Timestamp:   fireAt,
	}
	if opts.Message != "" {
		notice.Fields = append(notice.Fields, channel.EmbedField{Name: "Closing message", Value: opts.Message})
	}
	if opts.Silent {
		notice.Footer = &channel.EmbedFooter{Text: "The recipient will not be notified."}
	}
	if chID := t.ChannelID(); chID != "" {
		if _, err := m.transport.SendMessage(ctx, chID, channel.OutboundMessage{Embeds: []channel.Embed{notice}}); err != nil {
			m.logger.Warn("post close notice failed", t.logValue(), slog.Any("error", err))
		}
	}
	m.events.Publish(ctx, event.Event{
		Type:        event.ThreadClosing,
		RecipientID: t.id,
		ChannelID:   t.ChannelID(),
		ActorID:     opts.Closer.ID,
		Metadata:    map[string]any{"fire_at": fireAt, "silent": opts.Silent},
	})
	return nil
}

func (t *Thread) closeNow(ctx context.Context, opts CloseOptions) error {
	m := t.manager
	if !m.evict(t) {
		m.logger.Info("thread already closed", t.logValue())
		return nil
	}
	m.scheduler.CancelAll(t.id)
	if err := m.store.DeleteClosure(ctx, t.id, ""); err != nil {
		m.logger.Warn("delete persisted closures failed", t.logValue(), slog.Any("error", err))
	}
	t.mu.Lock()
	t.state = StateClosed
	t.mu.Unlock()
	t.release()

	closer := opts.Closer
	if closer.IsZero() {
		closer = m.transport.Self()
	}
	ch, bound := t.Channel()
	recipient := t.Recipient(ctx)
	t.mu.RLock()
	logID := t.logID
	t.mu.RUnlock()
	reason := "manual"
	if opts.Auto {
		reason = "idle"
	}

	if err := m.store.RecordClose(ctx, store.CloseRecord{
		LogID:       logID,
		RecipientID: t.id,
		ChannelID:   ch.ID,
		CloserID:    closer.ID,
		Message:     opts.Message,
		ClosedAt:    m.now(),
	}); err != nil {
		m.logger.Warn("record close failed", t.logValue(), slog.Any("error", err))
	}
	m.postLog(ctx, m.closedSummary(recipient, closer, ch, opts))

	if !opts.Silent {
		t.notifyClosed(ctx, opts)
	}

	var errs []error
	if bound {
		if err := m.transport.DeleteChannel(ctx, ch.ID); err != nil && !errors.Is(err, channel.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete thread channel: %w", err))
		}
	}

	m.events.Publish(ctx, event.Event{
		Type:        event.ThreadClosed,
		RecipientID: t.id,
		ChannelID:   ch.ID,
		ActorID:     closer.ID,
		Metadata:    map[string]any{"reason": reason, "silent": opts.Silent},
	})
	metrics.ThreadsClosed.WithLabelValues(reason).Inc()
	m.logger.Info("thread closed", t.logValue(), slog.String("closer", closer.ID), slog.String("reason", reason))
	return errors.Join(errs...)
}

func (t *Thread) notifyClosed(ctx context.Context, opts CloseOptions) {
	m := t.manager
	text := opts.Message
	if text == "" {
		text = m.cfg.ThreadCloseResponse
		if opts.Auto {
			text = m.cfg.AutoCloseResponse
		}
	}
	dm, err := m.transport.DirectChannel(ctx, t.id)
	if err != nil {
		m.logger.Warn("open recipient conversation failed", t.logValue(), slog.Any("error", err))
		return
	}
	embed := channel.Embed{
		Title:       m.cfg.ThreadCloseTitle,
		Description: text,
		Color:       m.cfg.Colors.Error,
		Timestamp:   m.now(),
		Footer:      &channel.EmbedFooter{Text: m.cfg.ThreadCloseFooter},
	}
	if _, err := m.transport.SendMessage(ctx, dm.ID, channel.OutboundMessage{Embeds: []channel.Embed{embed}}); err != nil {
		m.logger.Warn("send close notice failed", t.logValue(), slog.Any("error", err))
	}
}

// CancelClosure cancels the pending manual close, the idle close when auto is set,
// or both when all is set. It reports whether anything was cancelled.
func (t *Thread) CancelClosure(ctx context.Context, auto, all bool) bool {
	m := t.manager
	var kinds []ClosureKind
	switch {
	case all:
		kinds = []ClosureKind{ClosureManual, ClosureIdle}
	case auto:
		kinds = []ClosureKind{ClosureIdle}
	default:
		kinds = []ClosureKind{ClosureManual}
	}
	cancelled := false
	for _, kind := range kinds {
		if !m.scheduler.Cancel(t.id, kind) {
			continue
		}
		cancelled = true
		if err := m.store.DeleteClosure(ctx, t.id, string(kind)); err != nil {
			m.logger.Warn("delete persisted closure failed", t.logValue(), slog.Any("error", err))
		}
	}
	if all || !auto {
		t.transition(StateClosing, StateReady)
	}
	if !cancelled {
		m.logger.Debug("no scheduled close to cancel", t.logValue())
	}
	return cancelled
}

// ResetIdleTimer re-arms the inactivity close. It does nothing when the idle
// timeout is disabled or the thread is not ready.
func (t *Thread) ResetIdleTimer(ctx context.Context) {
	m := t.manager
	if m.cfg.IdleTimeout <= 0 || !t.Ready() {
		return
	}
	err := t.Close(ctx, CloseOptions{
		Closer:  m.transport.Self(),
		After:   m.cfg.IdleTimeout,
		Message: m.cfg.AutoCloseResponse,
		Silent:  m.cfg.AutoCloseSilently,
		Auto:    true,
	})
	if err != nil {
		m.logger.Warn("arm idle close failed", t.logValue(), slog.Any("error", err))
	}
}

// ClosesAt returns when the pending close of the given kind fires.
func (t *Thread) ClosesAt(kind ClosureKind) (time.Time, bool) {
	return t.manager.scheduler.Pending(t.id, kind)
}

func (m *Manager) closedSummary(recipient, closer channel.User, ch channel.Channel, opts CloseOptions) channel.Embed {
	desc := fmt.Sprintf("Thread with %s closed by %s.", recipient.Mention(), closer.Mention())
	if opts.Auto {
		desc = fmt.Sprintf("Thread with %s closed after inactivity.", recipient.Mention())
	}
	e := channel.Embed{
		Title:       "Thread closed",
		Description: desc,
		Color:       m.cfg.Colors.Error,
		Timestamp:   m.now(),
		Footer:      &channel.EmbedFooter{Text: "User ID: " + recipient.ID},
	}
	if strings.TrimSpace(opts.Message) != "" {
		e.Fields = append(e.Fields, channel.EmbedField{Name: "Message", Value: opts.Message})
	}
	if ch.Name != "" {
		e.Fields = append(e.Fields, channel.EmbedField{Name: "Channel", Value: "#" + ch.Name, Inline: true})
	}
	return e
}
