package thread

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/memohai/modmail/internal/channel"
)

// sendGenesis posts the recipient summary to the new staff channel and pins it.
func (m *Manager) sendGenesis(ctx context.Context, t *Thread, req CreateRequest) {
	chID := t.ChannelID()
	recipient := t.Recipient(ctx)
	msg, err := m.transport.SendMessage(ctx, chID, channel.OutboundMessage{
		Content: m.cfg.Mention,
		Embeds:  []channel.Embed{m.genesisEmbed(ctx, recipient)},
	})
	if err != nil {
		m.logger.Warn("send genesis message failed", t.logValue(), slog.Any("error", err))
		return
	}
	if err := m.transport.PinMessage(ctx, chID, msg.ID); err != nil {
		m.logger.Warn("pin genesis message failed", t.logValue(), slog.Any("error", err))
	}
	if !req.Creator.IsZero() {
		notice := fmt.Sprintf("%s opened this thread.", req.Creator.Mention())
		if _, err := m.transport.SendMessage(ctx, chID, channel.OutboundMessage{Content: notice}); err != nil {
			m.logger.Warn("send creator notice failed", t.logValue(), slog.Any("error", err))
		}
	}
}

func (m *Manager) genesisEmbed(ctx context.Context, u channel.User) channel.Embed {
	now := m.now()
	var desc strings.Builder
	desc.WriteString(u.Mention())
	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(&desc, " was created %s", humanize.RelTime(u.CreatedAt, now, "ago", "from now"))
	}

	member, memberErr := m.transport.Member(ctx, m.cfg.GuildID, u.ID)
	if memberErr == nil && !member.JoinedAt.IsZero() {
		fmt.Fprintf(&desc, ", joined %s", humanize.RelTime(member.JoinedAt, now, "ago", "from now"))
	} else if memberErr != nil {
		desc.WriteString(", is not a member of this server")
	}
	desc.WriteString(".")

	if count, err := m.store.CountClosed(ctx, u.ID); err != nil {
		m.logger.Warn("count past threads failed", slog.String("recipient", u.ID), slog.Any("error", err))
	} else if count > 0 {
		noun := "threads"
		if count == 1 {
			noun = "thread"
		}
		fmt.Fprintf(&desc, "\n\nThis user has **%s** past %s.", humanize.Comma(int64(count)), noun)
	}

	e := channel.Embed{
		Description: desc.String(),
		Color:       m.cfg.Colors.Main,
		Timestamp:   now,
		Author: &channel.EmbedAuthor{
			Name:    u.DisplayName(),
			IconURL: u.AvatarURL,
			URL:     profileURL(u.ID),
		},
		Footer: &channel.EmbedFooter{Text: "User ID: " + u.ID},
	}

	if guilds, err := m.transport.MutualGuilds(ctx, u.ID); err == nil && len(guilds) > 0 {
		names := make([]string, 0, len(guilds))
		for _, g := range guilds {
			names = append(names, g.Name)
		}
		e.Fields = append(e.Fields, channel.EmbedField{Name: "Mutual servers", Value: strings.Join(names, ", ")})
	}
	if memberErr == nil {
		if member.Nick != "" {
			e.Fields = append(e.Fields, channel.EmbedField{Name: "Nickname", Value: member.Nick, Inline: true})
		}
		roles := "No roles"
		if len(member.RoleIDs) > 0 {
			mentions := make([]string, 0, len(member.RoleIDs))
			for _, id := range member.RoleIDs {
				mentions = append(mentions, "<@&"+id+">")
			}
			roles = strings.Join(mentions, " ")
		}
		e.Fields = append(e.Fields, channel.EmbedField{Name: "Roles", Value: roles, Inline: true})
	}
	return e
}

// acknowledge tells the recipient a thread was opened.
func (m *Manager) acknowledge(ctx context.Context, t *Thread, req CreateRequest) {
	if req.Silent {
		return
	}
	embed := channel.Embed{
		Title:       m.cfg.ThreadCreationTitle,
		Description: m.cfg.ThreadCreationResponse,
		Color:       m.cfg.Colors.Main,
		Timestamp:   m.now(),
		Footer:      &channel.EmbedFooter{Text: "Your message has been sent"},
	}
	if !req.Creator.IsZero() {
		embed = channel.Embed{
			Title:       "New Thread",
			Description: "The staff team has opened a conversation with you.",
			Color:       m.cfg.Colors.Main,
			Timestamp:   m.now(),
		}
	}
	dm, err := m.transport.DirectChannel(ctx, t.id)
	if err == nil {
		_, err = m.transport.SendMessage(ctx, dm.ID, channel.OutboundMessage{Embeds: []channel.Embed{embed}})
	}
	if err == nil {
		return
	}
	m.logger.Warn("send thread acknowledgement failed", t.logValue(), slog.Any("error", err))
	m.postNotice(ctx, t, "The recipient could not be notified that this thread was opened.")
}
