package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/modmail/internal/attachment"
	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/metrics"
)

const (
	noSharedContextNotice = "Your message could not be delivered since the recipient shares no servers with the bot."
	blockedNotice         = "Your message could not be delivered as the recipient is only accepting direct messages from friends, or the bot was blocked by the recipient."
	closeCancelledNotice  = "Scheduled close has been cancelled."
)

// Send relays msg to dest framed according to opts and returns the main sent message.
// Additional images follow as separate messages. A staff command relayed to the
// staff surface is deleted afterwards unless it carried attachments.
func (t *Thread) Send(ctx context.Context, msg channel.Message, dest Destination, opts SendOptions) (channel.Message, error) {
	if msg.IsEmpty() {
		return channel.Message{}, ErrEmptyMessage
	}
	m := t.manager
	if !t.WaitUntilReady(ctx, 0) {
		m.logger.Warn("relaying before thread is ready", t.logValue())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}

	items := m.collector.Collect(ctx, msg)
	if opts.Plain && opts.FromStaff && !opts.Note && dest.Surface() == SurfaceUser {
		return m.sendPlain(ctx, msg, dest, opts, items)
	}

	result := attachment.Classify(items)
	main, files := m.envelope(ctx, msg, dest, opts, result)
	sent, err := dest.deliver(ctx, m.transport, channel.OutboundMessage{Embeds: []channel.Embed{main}, Files: files})
	if err != nil {
		return channel.Message{}, err
	}

	for i, item := range result.AdditionalImages() {
		if _, err := dest.deliver(ctx, m.transport, followUp(main, item, i+2)); err != nil {
			m.logger.Warn("send additional image failed", t.logValue(), slog.Int("seq", i+2), slog.Any("error", err))
		}
	}

	if (opts.FromStaff || opts.Note) && dest.Surface() == SurfaceStaff &&
		msg.ID != "" && msg.ChannelID == dest.ChannelID() && len(msg.Attachments) == 0 {
		if err := m.transport.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
			m.logger.Debug("delete command message failed", t.logValue(), slog.Any("error", err))
		}
	}
	return sent, nil
}

// sendPlain delivers a staff reply as bare text, re-uploading attachments as files.
func (m *Manager) sendPlain(ctx context.Context, msg channel.Message, dest Destination, opts SendOptions, items []attachment.Item) (channel.Message, error) {
	out := channel.OutboundMessage{Content: m.plainPrefix(msg.Author, opts) + msg.Content}
	for _, item := range items {
		if item.File != nil {
			out.Files = append(out.Files, *item.File)
			continue
		}
		if item.Placeholder() {
			continue
		}
		if m.fetcher == nil {
			out.Content += "\n" + item.URL
			continue
		}
		data, contentType, err := m.fetcher.Fetch(ctx, item.URL)
		if err != nil {
			m.logger.Warn("fetch attachment for plain reply failed", slog.String("url", item.URL), slog.Any("error", err))
			out.Content += "\n" + item.URL
			continue
		}
		name := item.Filename
		if name == "" {
			name = fmt.Sprintf("image-%d", len(out.Files)+1)
		}
		out.Files = append(out.Files, channel.File{Name: name, ContentType: contentType, Data: data})
	}
	return dest.deliver(ctx, m.transport, out)
}

// ReplyOptions configures Reply.
type ReplyOptions struct {
	Anonymous bool
	Plain     bool
}

// ReplyResult holds both copies of a reply. When the recipient copy could not be
// delivered, Staff holds the failure notice and Failure the reason.
type ReplyResult struct {
	User      channel.Message
	Staff     channel.Message
	Delivered bool
	Failure   error
}

// Reply mirrors a staff message to the recipient and the thread channel. Delivery
// failures are reported in the thread channel instead of being returned.
func (t *Thread) Reply(ctx context.Context, msg channel.Message, opts ReplyOptions) (ReplyResult, error) {
	if msg.IsEmpty() {
		return ReplyResult{}, ErrEmptyMessage
	}
	m := t.manager
	t.WaitUntilReady(ctx, 0)
	staff, err := t.StaffSurface()
	if err != nil {
		return ReplyResult{}, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}

	var res ReplyResult
	if guilds, err := m.transport.MutualGuilds(ctx, t.id); err == nil && len(guilds) == 0 {
		res.Failure = ErrNoSharedContext
		res.Staff, err = m.postNotice(ctx, t, noSharedContextNotice)
		metrics.DeliveryFailures.WithLabelValues("no_shared_context").Inc()
		return res, err
	}

	userDest, err := t.UserSurface(ctx)
	if err == nil {
		res.User, err = t.Send(ctx, msg, userDest, SendOptions{FromStaff: true, Anonymous: opts.Anonymous, Plain: opts.Plain})
	}
	if err != nil {
		reason := "unknown"
		text := fmt.Sprintf("Your message could not be delivered due to an unknown error: %s", err.Error())
		if errors.Is(err, channel.ErrCannotMessageUser) || errors.Is(err, channel.ErrForbidden) {
			reason = "blocked"
			text = blockedNotice
		}
		metrics.DeliveryFailures.WithLabelValues(reason).Inc()
		m.logger.Warn("reply delivery failed", t.logValue(), slog.Any("error", err))
		res.Failure = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		res.Staff, err = m.postNotice(ctx, t, text)
		return res, err
	}
	res.Delivered = true

	res.Staff, err = t.Send(ctx, msg, staff, SendOptions{FromStaff: true, Anonymous: opts.Anonymous})
	if err != nil {
		return res, fmt.Errorf("relay reply to thread channel: %w", err)
	}
	metrics.MessagesRelayed.WithLabelValues("reply").Inc()

	if _, pending := t.ClosesAt(ClosureManual); pending && t.CancelClosure(ctx, false, false) {
		if _, err := m.postNotice(ctx, t, closeCancelledNotice); err != nil {
			m.logger.Warn("post close cancelled notice failed", t.logValue(), slog.Any("error", err))
		}
	}
	t.ResetIdleTimer(ctx)
	return res, nil
}

// Note posts a staff-only annotation to the thread channel and pins it.
func (t *Thread) Note(ctx context.Context, msg channel.Message, persistent bool) (channel.Message, error) {
	staff, err := t.StaffSurface()
	if err != nil {
		return channel.Message{}, err
	}
	sent, err := t.Send(ctx, msg, staff, SendOptions{Note: true, PersistentNote: persistent})
	if err != nil {
		return channel.Message{}, err
	}
	if err := t.manager.transport.PinMessage(ctx, staff.ChannelID(), sent.ID); err != nil {
		t.manager.logger.Warn("pin note failed", t.logValue(), slog.Any("error", err))
	}
	metrics.MessagesRelayed.WithLabelValues("note").Inc()
	return sent, nil
}

// RelayInbound relays a recipient's private message to the thread channel and
// re-arms the idle close.
func (t *Thread) RelayInbound(ctx context.Context, msg channel.Message) (channel.Message, error) {
	t.WaitUntilReady(ctx, 0)
	staff, err := t.StaffSurface()
	if err != nil {
		return channel.Message{}, err
	}
	sent, err := t.Send(ctx, msg, staff, SendOptions{})
	if err != nil {
		return channel.Message{}, err
	}
	metrics.MessagesRelayed.WithLabelValues("inbound").Inc()
	t.ResetIdleTimer(ctx)
	return sent, nil
}
