// Package inbound routes private messages from users into support threads.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/thread"
)

const (
	SentEmoji   = "✅"
	FailedEmoji = "❌"

	defaultBlockedResponse = "You are currently blocked from contacting the staff team."
)

// Config controls which private messages open threads.
type Config struct {
	BlockedUsers          []string
	BlockedResponse       string
	ConfirmThreadCreation bool
}

// Processor relays private messages into the sender's thread, creating it when needed.
type Processor struct {
	transport channel.Transport
	manager   *thread.Manager
	blocked   map[string]struct{}
	response  string
	confirm   bool
	logger    *slog.Logger

	mu sync.Mutex
	// queues holds the undelivered messages of each sender with a running worker.
	queues map[string][]channel.Message
}

// NewProcessor creates a processor bound to the thread manager.
func NewProcessor(log *slog.Logger, transport channel.Transport, manager *thread.Manager, cfg Config) *Processor {
	if log == nil {
		log = slog.Default()
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedUsers))
	for _, id := range cfg.BlockedUsers {
		if id = strings.TrimSpace(id); id != "" {
			blocked[id] = struct{}{}
		}
	}
	response := strings.TrimSpace(cfg.BlockedResponse)
	if response == "" {
		response = defaultBlockedResponse
	}
	return &Processor{
		transport: transport,
		manager:   manager,
		blocked:   blocked,
		response:  response,
		confirm:   cfg.ConfirmThreadCreation,
		logger:    log.With(slog.String("component", "inbound")),
		queues:    map[string][]channel.Message{},
	}
}

// Dispatch queues msg behind the earlier messages of the same sender and returns
// without waiting. Each sender's queue is drained in order by a single worker,
// so it is safe to call from the gateway event loop.
func (p *Processor) Dispatch(ctx context.Context, msg channel.Message) error {
	userID := msg.Author.ID
	p.mu.Lock()
	pending, running := p.queues[userID]
	p.queues[userID] = append(pending, msg)
	p.mu.Unlock()
	if !running {
		go p.drain(ctx, userID)
	}
	return nil
}

func (p *Processor) drain(ctx context.Context, userID string) {
	for {
		p.mu.Lock()
		pending := p.queues[userID]
		if len(pending) == 0 {
			delete(p.queues, userID)
			p.mu.Unlock()
			return
		}
		msg := pending[0]
		p.queues[userID] = pending[1:]
		p.mu.Unlock()

		if err := p.HandleInbound(ctx, msg); err != nil {
			p.logger.Error("handle inbound failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		}
	}
}

// HandleInbound processes one message synchronously. Only private messages from
// users are relayed; everything else is ignored. Messages are refused until the
// thread registry has been rebuilt.
func (p *Processor) HandleInbound(ctx context.Context, msg channel.Message) error {
	if !msg.IsPrivate() || msg.Author.Bot || msg.Author.IsZero() {
		return nil
	}
	if msg.Author.ID == p.transport.Self().ID {
		return nil
	}
	if msg.IsEmpty() {
		p.logger.Debug("inbound dropped empty", slog.String("user_id", msg.Author.ID))
		return nil
	}

	if _, ok := p.blocked[msg.Author.ID]; ok {
		p.logger.Info("inbound from blocked user", slog.String("user_id", msg.Author.ID))
		p.react(ctx, msg, FailedEmoji)
		_, err := p.transport.SendMessage(ctx, msg.ChannelID, channel.OutboundMessage{Embeds: []channel.Embed{{
			Title:       "Message not sent!",
			Description: p.response,
			Color:       p.manager.Config().Colors.Error,
		}}})
		return err
	}

	if !p.manager.WaitPopulated(ctx, 0) {
		p.react(ctx, msg, FailedEmoji)
		return fmt.Errorf("relay message %s: %w", msg.ID, thread.ErrRegistryNotPopulated)
	}

	p.logger.Debug("inbound received",
		slog.String("user_id", msg.Author.ID),
		slog.String("message_id", msg.ID),
		slog.Int("attachments", len(msg.Attachments)),
		slog.Int("stickers", len(msg.Stickers)),
	)

	t, err := p.manager.FindOrCreate(ctx, thread.CreateRequest{
		Recipient:           msg.Author,
		RequireConfirmation: p.confirm,
		ConfirmChannelID:    msg.ChannelID,
		ConfirmUserID:       msg.Author.ID,
	})
	switch {
	case errors.Is(err, thread.ErrThreadCancelled):
		p.logger.Info("thread creation cancelled by user", slog.String("user_id", msg.Author.ID))
		return nil
	case errors.Is(err, thread.ErrNoSharedContext):
		p.react(ctx, msg, FailedEmoji)
		return nil
	case err != nil:
		p.react(ctx, msg, FailedEmoji)
		return fmt.Errorf("open thread for %s: %w", msg.Author.ID, err)
	}

	if _, err := t.RelayInbound(ctx, msg); err != nil {
		p.react(ctx, msg, FailedEmoji)
		return fmt.Errorf("relay message %s: %w", msg.ID, err)
	}
	p.react(ctx, msg, SentEmoji)
	return nil
}

func (p *Processor) react(ctx context.Context, msg channel.Message, emoji string) {
	if err := p.transport.React(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
		p.logger.Debug("add receipt reaction failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}
