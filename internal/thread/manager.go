package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memohai/modmail/internal/attachment"
	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/event"
	"github.com/memohai/modmail/internal/metrics"
	"github.com/memohai/modmail/internal/store"
)

// Options carries the optional collaborators of a Manager.
type Options struct {
	Store     Store
	Events    event.Publisher
	Collector *attachment.Collector
	Fetcher   Fetcher
	// Clock overrides time.Now.
	Clock func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, event.Event) {}

// Manager is the registry of live threads keyed by recipient id. It is the only
// writer of the registry.
type Manager struct {
	transport channel.Transport
	store     Store
	events    event.Publisher
	collector *attachment.Collector
	fetcher   Fetcher
	scheduler *Scheduler
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	cache        map[string]*Thread
	populated    atomic.Bool
	populatedCh  chan struct{}
	populateOnce sync.Once
}

// NewManager creates a manager. Call Start before relaying traffic.
func NewManager(log *slog.Logger, transport channel.Transport, cfg Config, opts Options) *Manager {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "thread_manager"))
	m := &Manager{
		transport: transport,
		store:     opts.Store,
		events:    opts.Events,
		collector: opts.Collector,
		fetcher:   opts.Fetcher,
		scheduler: NewScheduler(log),
		cfg:       cfg.withDefaults(),
		logger:    log,
		now:       opts.Clock,
		cache:     map[string]*Thread{},

		populatedCh: make(chan struct{}),
	}
	if m.store == nil {
		m.store = nopStore{}
	}
	if m.events == nil {
		m.events = nopPublisher{}
	}
	if m.collector == nil {
		m.collector = attachment.NewCollector(log, nil)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start runs the closure worker until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go m.scheduler.Run(ctx)
}

// Stop halts the closure worker. Persisted closures are re-armed by the next PopulateCache.
func (m *Manager) Stop() {
	m.scheduler.Stop()
}

// Scheduler returns the closure scheduler.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Populated reports whether PopulateCache has completed.
func (m *Manager) Populated() bool {
	return m.populated.Load()
}

// WaitPopulated blocks until PopulateCache has completed, ctx is done or timeout
// elapses. A non-positive timeout uses the configured ready timeout.
func (m *Manager) WaitPopulated(ctx context.Context, timeout time.Duration) bool {
	if m.populated.Load() {
		return true
	}
	if timeout <= 0 {
		timeout = m.cfg.ReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.populatedCh:
	case <-timer.C:
	case <-ctx.Done():
	}
	return m.populated.Load()
}

// Len returns the number of threads in the registry.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Find returns the live thread of a recipient, or nil.
func (m *Manager) Find(recipientID string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.cache[strings.TrimSpace(recipientID)]
	if t == nil || t.Cancelled() {
		return nil
	}
	return t
}

// FindByChannel returns the thread bound to a staff channel, or nil. The
// recipient is recovered from the channel metadata; without metadata the
// registry is scanned and the metadata rewritten.
func (m *Manager) FindByChannel(ctx context.Context, ch channel.Channel) (*Thread, error) {
	if _, recipientID, ok := ParseTopic(ch.Topic); ok {
		return m.findByTopic(ctx, ch, recipientID)
	}

	m.mu.Lock()
	var found *Thread
	for _, t := range m.cache {
		if t.ChannelID() == ch.ID {
			found = t
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, nil
	}
	topic := FormatTopic("", found.id)
	if _, err := m.transport.EditChannel(ctx, ch.ID, channel.ChannelEdit{Topic: &topic}); err != nil {
		m.logger.Warn("repair channel metadata failed", found.logValue(), slog.Any("error", err))
	}
	return found, nil
}

func (m *Manager) findByTopic(ctx context.Context, ch channel.Channel, recipientID string) (*Thread, error) {
	m.mu.Lock()
	existing := m.cache[recipientID]
	if existing == nil {
		t := newThread(m, recipientID)
		t.markReady(ch)
		m.cache[recipientID] = t
		m.mu.Unlock()
		metrics.OpenThreads.Inc()
		m.logger.Info("thread recovered from channel", t.logValue())
		return t, nil
	}
	m.mu.Unlock()

	bound := existing.ChannelID()
	if bound == ch.ID || existing.State() == StatePending {
		return existing, nil
	}
	if _, err := m.transport.GetChannel(ctx, bound); err == nil {
		m.logger.Warn("channel metadata names a recipient bound elsewhere",
			slog.String("channel", ch.ID),
			existing.logValue(),
		)
		return existing, nil
	} else if !errors.Is(err, channel.ErrNotFound) {
		return nil, fmt.Errorf("resolve bound channel: %w", err)
	}
	existing.mu.Lock()
	existing.channel = &ch
	existing.mu.Unlock()
	m.logger.Info("thread rebound to channel", existing.logValue())
	return existing, nil
}

// CreateRequest describes a thread to open.
type CreateRequest struct {
	Recipient channel.User
	// Creator is the staff member opening the thread. Zero for user-initiated threads.
	Creator    channel.User
	CategoryID string
	Title      string
	// RequireConfirmation asks ConfirmUserID to accept before provisioning.
	RequireConfirmation bool
	ConfirmChannelID    string
	ConfirmUserID       string
	// Silent skips the acknowledgement sent to the recipient.
	Silent bool
}

// FindOrCreate returns the live thread of the recipient or creates one.
func (m *Manager) FindOrCreate(ctx context.Context, req CreateRequest) (*Thread, error) {
	if t := m.Find(req.Recipient.ID); t != nil {
		return t, nil
	}
	return m.Create(ctx, req)
}

// Create opens a thread. A live thread for the recipient is returned as is;
// a stale one (channel gone) is closed silently first. A declined or timed
// out confirmation returns the cancelled thread with ErrThreadCancelled.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Thread, error) {
	id := strings.TrimSpace(req.Recipient.ID)
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: recipient %q", ErrInvalidID, id)
	}
	if m.Find(id) == nil {
		if err := m.ensureSharedContext(ctx, req.Recipient); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		existing := m.cache[id]
		if existing == nil || existing.Cancelled() {
			t := newThread(m, id)
			t.setRecipient(req.Recipient)
			t.creator = req.Creator
			m.cache[id] = t
			m.mu.Unlock()
			return m.open(ctx, t, req)
		}
		m.mu.Unlock()

		if attempt > 0 || !m.stale(ctx, existing) {
			m.logger.Warn("thread already exists", existing.logValue())
			return existing, nil
		}
		m.logger.Info("closing stale thread", existing.logValue())
		if err := existing.Close(ctx, CloseOptions{Silent: true, Message: "Channel no longer exists."}); err != nil {
			m.logger.Warn("close stale thread failed", existing.logValue(), slog.Any("error", err))
		}
	}
}

func (m *Manager) stale(ctx context.Context, t *Thread) bool {
	chID := t.ChannelID()
	if chID == "" || !t.Ready() {
		return false
	}
	_, err := m.transport.GetChannel(ctx, chID)
	return errors.Is(err, channel.ErrNotFound)
}

func (m *Manager) ensureSharedContext(ctx context.Context, recipient channel.User) error {
	guilds, err := m.transport.MutualGuilds(ctx, recipient.ID)
	if err != nil {
		m.logger.Warn("mutual guild lookup failed", slog.String("recipient", recipient.ID), slog.Any("error", err))
		return nil
	}
	if len(guilds) > 0 {
		return nil
	}
	metrics.DeliveryFailures.WithLabelValues("no_shared_context").Inc()
	m.postLog(ctx, channel.Embed{
		Title:       "Thread not created",
		Description: fmt.Sprintf("%s sent a message but shares no servers with the bot.", recipient.Mention()),
		Color:       m.cfg.Colors.Error,
		Timestamp:   m.now(),
		Footer:      &channel.EmbedFooter{Text: "User ID: " + recipient.ID},
	})
	return ErrNoSharedContext
}

func (m *Manager) open(ctx context.Context, t *Thread, req CreateRequest) (*Thread, error) {
	m.events.Publish(ctx, event.Event{Type: event.ThreadCreated, RecipientID: t.id, ActorID: req.Creator.ID})

	if req.RequireConfirmation && !m.confirm(ctx, t, req) {
		m.cancel(ctx, t, "declined")
		return t, ErrThreadCancelled
	}

	ch, err := m.provision(ctx, t, req)
	if err != nil {
		m.cancel(ctx, t, "provisioning")
		m.reportProvisioningFailure(ctx, t, err)
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	t.markReady(ch)
	metrics.ThreadsOpened.Inc()
	metrics.OpenThreads.Inc()

	logID, err := m.store.RecordOpen(ctx, store.ThreadLog{
		RecipientID: t.id,
		ChannelID:   ch.ID,
		CreatorID:   req.Creator.ID,
		OpenedAt:    t.createdAt,
	})
	if err != nil {
		m.logger.Warn("record thread log failed", t.logValue(), slog.Any("error", err))
	}
	t.mu.Lock()
	t.logID = logID
	t.mu.Unlock()

	m.events.Publish(ctx, event.Event{Type: event.ThreadReady, RecipientID: t.id, ChannelID: ch.ID, ActorID: req.Creator.ID})
	m.logger.Info("thread ready", t.logValue())

	m.sendGenesis(ctx, t, req)
	m.acknowledge(ctx, t, req)
	t.ResetIdleTimer(ctx)
	return t, nil
}

func (m *Manager) cancel(ctx context.Context, t *Thread, reason string) {
	m.mu.Lock()
	if m.cache[t.id] == t {
		delete(m.cache, t.id)
	}
	m.mu.Unlock()
	t.markCancelled()
	metrics.ThreadsCancelled.WithLabelValues(reason).Inc()
	m.events.Publish(ctx, event.Event{Type: event.ThreadCancelled, RecipientID: t.id, Metadata: map[string]any{"reason": reason}})
	m.logger.Info("thread cancelled", t.logValue(), slog.String("reason", reason))
}

// evict removes exactly t from the registry and reports whether it was present.
func (m *Manager) evict(t *Thread) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache[t.id] != t {
		return false
	}
	delete(m.cache, t.id)
	if t.Ready() {
		metrics.OpenThreads.Dec()
	}
	return true
}

// PopulateCache rebuilds the registry from the metadata of the channels under
// the managed categories and re-arms persisted closures. No channel is created.
func (m *Manager) PopulateCache(ctx context.Context) error {
	categories := map[string]struct{}{}
	if m.cfg.MainCategoryID != "" {
		categories[m.cfg.MainCategoryID] = struct{}{}
	}
	if id, err := m.store.Setting(ctx, fallbackCategorySetting); err != nil {
		m.logger.Warn("read fallback category failed", slog.Any("error", err))
	} else if id != "" {
		categories[id] = struct{}{}
	}

	channels, err := m.transport.GuildChannels(ctx, m.cfg.GuildID)
	if err != nil {
		return fmt.Errorf("list guild channels: %w", err)
	}

	restored := 0
	m.mu.Lock()
	for _, ch := range channels {
		if ch.Kind != channel.ChannelKindText {
			continue
		}
		if _, ok := categories[ch.ParentID]; !ok {
			continue
		}
		_, recipientID, ok := ParseTopic(ch.Topic)
		if !ok {
			continue
		}
		if existing := m.cache[recipientID]; existing != nil {
			if existing.ChannelID() != ch.ID {
				m.logger.Warn("duplicate thread channel for recipient",
					slog.String("channel", ch.ID),
					existing.logValue(),
				)
			}
			continue
		}
		t := newThread(m, recipientID)
		t.markReady(ch)
		m.cache[recipientID] = t
		restored++
	}
	m.mu.Unlock()
	metrics.OpenThreads.Add(float64(restored))

	closures, err := m.store.ListClosures(ctx)
	if err != nil {
		m.logger.Warn("list persisted closures failed", slog.Any("error", err))
	}
	for _, c := range closures {
		m.rearm(ctx, c)
	}

	m.populated.Store(true)
	m.populateOnce.Do(func() { close(m.populatedCh) })
	m.logger.Info("thread cache populated", slog.Int("threads", restored), slog.Int("closures", len(closures)))
	return nil
}

func (m *Manager) rearm(ctx context.Context, c store.Closure) {
	t := m.Find(c.RecipientID)
	if t == nil {
		if err := m.store.DeleteClosure(ctx, c.RecipientID, c.Kind); err != nil {
			m.logger.Warn("drop orphan closure failed", slog.String("recipient", c.RecipientID), slog.Any("error", err))
		}
		return
	}
	kind := ClosureKind(c.Kind)
	opts := CloseOptions{
		Closer:  channel.User{ID: c.CloserID},
		Message: c.Message,
		Silent:  c.Silent,
		Auto:    kind == ClosureIdle,
	}
	m.scheduler.Schedule(t.id, kind, c.FireAt.Sub(m.now()), t.closeJob(opts))
	if kind == ClosureManual {
		t.transition(StateReady, StateClosing)
	}
}

// Reconcile evicts threads whose staff channel no longer exists and returns how many were removed.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.cache))
	for _, t := range m.cache {
		threads = append(threads, t)
	}
	m.mu.Unlock()

	removed := 0
	for _, t := range threads {
		if !m.stale(ctx, t) {
			continue
		}
		if err := t.Close(ctx, CloseOptions{Silent: true, Message: "Channel no longer exists."}); err != nil {
			m.logger.Warn("close stale thread failed", t.logValue(), slog.Any("error", err))
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("registry reconciled", slog.Int("removed", removed))
	}
	return removed, nil
}

// Snapshot is a read-only view of a thread.
type Snapshot struct {
	RecipientID  string     `json:"recipient_id"`
	ChannelID    string     `json:"channel_id,omitempty"`
	CreatorID    string     `json:"creator_id,omitempty"`
	State        string     `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosesAt     *time.Time `json:"closes_at,omitempty"`
	IdleClosesAt *time.Time `json:"idle_closes_at,omitempty"`
}

// Threads returns snapshots of every thread in the registry, ordered by creation.
func (m *Manager) Threads() []Snapshot {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.cache))
	for _, t := range m.cache {
		threads = append(threads, t)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(threads))
	for _, t := range threads {
		t.mu.RLock()
		creator := t.creator.ID
		t.mu.RUnlock()
		s := Snapshot{
			RecipientID: t.id,
			ChannelID:   t.ChannelID(),
			CreatorID:   creator,
			State:       t.State().String(),
			CreatedAt:   t.createdAt,
		}
		if at, ok := t.ClosesAt(ClosureManual); ok {
			s.ClosesAt = &at
		}
		if at, ok := t.ClosesAt(ClosureIdle); ok {
			s.IdleClosesAt = &at
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// postLog posts to the configured log channel, if any.
func (m *Manager) postLog(ctx context.Context, embed channel.Embed) {
	if m.cfg.LogChannelID == "" {
		return
	}
	if _, err := m.transport.SendMessage(ctx, m.cfg.LogChannelID, channel.OutboundMessage{Embeds: []channel.Embed{embed}}); err != nil {
		m.logger.Warn("post to log channel failed", slog.Any("error", err))
	}
}
