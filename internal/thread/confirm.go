package thread

import (
	"context"
	"log/slog"

	"github.com/memohai/modmail/internal/channel"
)

const (
	ConfirmEmoji = "✅"
	DenyEmoji    = "🚫"
)

// confirm asks for acceptance before a channel is provisioned. Timeout, a deny
// reaction or a prompt that cannot be delivered all decline.
func (m *Manager) confirm(ctx context.Context, t *Thread, req CreateRequest) bool {
	chID := req.ConfirmChannelID
	if chID == "" {
		dm, err := m.transport.DirectChannel(ctx, t.id)
		if err != nil {
			m.logger.Warn("open confirmation conversation failed", t.logValue(), slog.Any("error", err))
			return false
		}
		chID = dm.ID
	}
	userID := req.ConfirmUserID
	if userID == "" {
		userID = t.id
	}

	prompt, err := m.transport.SendMessage(ctx, chID, channel.OutboundMessage{Embeds: []channel.Embed{{
		Title:       "Confirm thread creation",
		Description: "React to confirm thread creation which will directly contact the staff team.",
		Color:       m.cfg.Colors.Main,
		Timestamp:   m.now(),
	}}})
	if err != nil {
		m.logger.Warn("send confirmation prompt failed", t.logValue(), slog.Any("error", err))
		return false
	}
	for _, emoji := range []string{ConfirmEmoji, DenyEmoji} {
		if err := m.transport.React(ctx, chID, prompt.ID, emoji); err != nil {
			m.logger.Warn("add confirmation reaction failed", t.logValue(), slog.Any("error", err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmTimeout)
	defer cancel()
	reaction, err := m.transport.AwaitReaction(waitCtx, chID, prompt.ID, userID, []string{ConfirmEmoji, DenyEmoji})
	accepted := err == nil && reaction.Emoji == ConfirmEmoji

	result := channel.Embed{Title: "Thread creation confirmed", Color: m.cfg.Colors.Main, Timestamp: m.now()}
	switch {
	case accepted:
	case err != nil:
		result = channel.Embed{Title: "Cancelled", Description: "Timed out.", Color: m.cfg.Colors.Error, Timestamp: m.now()}
	default:
		result = channel.Embed{Title: "Cancelled", Color: m.cfg.Colors.Error, Timestamp: m.now()}
	}
	if _, err := m.transport.EditMessage(ctx, chID, prompt.ID, channel.OutboundMessage{Embeds: []channel.Embed{result}}); err != nil {
		m.logger.Debug("update confirmation prompt failed", t.logValue(), slog.Any("error", err))
	}
	return accepted
}
