package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/memohai/modmail/internal/attachment"
	"github.com/memohai/modmail/internal/channel"
)

const (
	NoteAuthorPrefix           = "Note by "
	PersistentNoteAuthorPrefix = "Persistent Note by "
	AdditionalImageLabel       = "Additional Image Upload (%d)"
	FileUploadLabel            = "File upload (%d)"
	EditedFieldName            = "Edited, former message:"
	AnonymousReplyFooter       = "Anonymous Reply"

	profileURLBase = "https://discord.com/users/"
	maxFieldValue  = 1024
)

// SendOptions selects how a message is framed.
type SendOptions struct {
	FromStaff      bool
	Note           bool
	PersistentNote bool
	Anonymous      bool
	Plain          bool
}

// IsNote reports whether an envelope is a staff note.
func IsNote(e channel.Embed) bool {
	if e.Author == nil {
		return false
	}
	return strings.HasPrefix(e.Author.Name, NoteAuthorPrefix) ||
		strings.HasPrefix(e.Author.Name, PersistentNoteAuthorPrefix)
}

func profileURL(userID string) string {
	return profileURLBase + userID
}

// correlatedURL tags a sender URL with the id of the message being relayed, so
// both copies of a reply carry the same token.
func correlatedURL(userID, messageID string) string {
	if messageID == "" {
		return profileURL(userID)
	}
	return profileURL(userID) + "#" + messageID
}

func correlationToken(e channel.Embed) string {
	if e.Author == nil {
		return ""
	}
	if idx := strings.LastIndexByte(e.Author.URL, '#'); idx >= 0 {
		return e.Author.URL[idx+1:]
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// staffTag returns the label shown for a staff author: their top role or the configured tag.
func (m *Manager) staffTag(ctx context.Context, author channel.User) string {
	member, err := m.transport.Member(ctx, m.cfg.GuildID, author.ID)
	if err == nil && len(member.RoleNames) > 0 && member.RoleNames[0] != "" {
		return member.RoleNames[0]
	}
	return m.cfg.StaffTag
}

// envelope builds the main structured message and the uploads it references.
func (m *Manager) envelope(ctx context.Context, msg channel.Message, dest Destination, opts SendOptions, result attachment.Result) (channel.Embed, []channel.File) {
	author := msg.Author
	e := channel.Embed{Description: msg.Content}
	if m.cfg.ShowTimestamp {
		e.Timestamp = msg.CreatedAt
	}

	switch {
	case opts.Note:
		prefix := NoteAuthorPrefix
		if opts.PersistentNote {
			prefix = PersistentNoteAuthorPrefix
		}
		e.Color = m.cfg.Colors.Note
		e.Author = &channel.EmbedAuthor{Name: prefix + author.DisplayName(), IconURL: author.AvatarURL, URL: correlatedURL(author.ID, msg.ID)}
	case opts.FromStaff:
		e.Color = m.cfg.Colors.Staff
		if opts.Anonymous && dest.Surface() == SurfaceUser {
			self := m.transport.Self()
			e.Author = &channel.EmbedAuthor{Name: m.cfg.AnonUsername, IconURL: m.cfg.AnonAvatarURL, URL: correlatedURL(self.ID, msg.ID)}
			e.Footer = &channel.EmbedFooter{Text: m.cfg.AnonTag}
		} else {
			e.Author = &channel.EmbedAuthor{Name: author.DisplayName(), IconURL: author.AvatarURL, URL: correlatedURL(author.ID, msg.ID)}
			footer := m.staffTag(ctx, author)
			if opts.Anonymous {
				footer = AnonymousReplyFooter
			}
			e.Footer = &channel.EmbedFooter{Text: footer}
		}
	default:
		e.Color = m.cfg.Colors.Recipient
		e.Author = &channel.EmbedAuthor{Name: author.DisplayName(), IconURL: author.AvatarURL, URL: correlatedURL(author.ID, msg.ID)}
	}

	var files []channel.File
	if in := result.Inline; in != nil {
		if in.File != nil {
			files = append(files, *in.File)
		}
		if !in.Placeholder() {
			e.ImageURL = in.URL
		}
		if in.Named() {
			switch {
			case in.Sticker && in.Placeholder():
				e.Fields = append(e.Fields, channel.EmbedField{Name: "Sticker", Value: in.Filename + " (unable to retrieve image)"})
			case in.Sticker:
				e.Fields = append(e.Fields, channel.EmbedField{Name: "Sticker", Value: in.Filename})
			default:
				e.Fields = append(e.Fields, channel.EmbedField{Name: "Image", Value: fmt.Sprintf("[%s](%s)", in.Filename, in.URL)})
			}
		}
	}

	for i, item := range result.Files() {
		name := item.Filename
		if name == "" {
			name = item.URL
		}
		value := fmt.Sprintf("[%s](%s)", name, item.URL)
		if item.Size > 0 {
			value += " (" + humanize.Bytes(uint64(item.Size)) + ")"
		}
		e.Fields = append(e.Fields, channel.EmbedField{Name: fmt.Sprintf(FileUploadLabel, i+1), Value: value})
	}
	return e, files
}

// followUp builds the follow-up message for one additional image. Follow-ups
// carry no sender URL so they are never mistaken for a relayed envelope.
func followUp(main channel.Embed, item attachment.Item, seq int) channel.OutboundMessage {
	e := channel.Embed{
		Color:     main.Color,
		Timestamp: main.Timestamp,
		Footer:    &channel.EmbedFooter{Text: fmt.Sprintf(AdditionalImageLabel, seq)},
	}
	if main.Author != nil {
		e.Author = &channel.EmbedAuthor{Name: main.Author.Name, IconURL: main.Author.IconURL}
	}
	switch {
	case item.Placeholder():
		e.Description = fmt.Sprintf("Sticker: %s (unable to retrieve image)", item.Filename)
	default:
		e.ImageURL = item.URL
		if item.Named() {
			e.Description = item.Filename
		}
	}
	out := channel.OutboundMessage{Embeds: []channel.Embed{e}}
	if item.File != nil {
		out.Files = []channel.File{*item.File}
	}
	return out
}

// plainPrefix is the sender label that precedes the body of a plain reply.
func (m *Manager) plainPrefix(author channel.User, opts SendOptions) string {
	name := author.DisplayName()
	if opts.Anonymous {
		name = m.cfg.AnonUsername
	}
	return "**" + name + ":** "
}

// plainBody strips the sender label from a plain reply.
func plainBody(content string) (prefix, body string, ok bool) {
	if !strings.HasPrefix(content, "**") {
		return "", "", false
	}
	idx := strings.Index(content, ":** ")
	if idx < 0 {
		return "", "", false
	}
	return content[:idx+4], content[idx+4:], true
}

func (m *Manager) noticeEmbed(text string) channel.Embed {
	return channel.Embed{Description: text, Color: m.cfg.Colors.Error, Timestamp: m.now()}
}

// postNotice posts an error-coloured notice to the thread channel.
func (m *Manager) postNotice(ctx context.Context, t *Thread, text string) (channel.Message, error) {
	chID := t.ChannelID()
	if chID == "" {
		return channel.Message{}, ErrThreadNotReady
	}
	return m.transport.SendMessage(ctx, chID, channel.OutboundMessage{Embeds: []channel.Embed{m.noticeEmbed(text)}})
}
