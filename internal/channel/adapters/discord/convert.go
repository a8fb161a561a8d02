package discord

import (
	"bytes"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/modmail/internal/channel"
)

const (
	stickerCDN   = "https://media.discordapp.net/stickers/"
	avatarSize   = "256"
	maxEmbedDesc = 4096
	maxContent   = 2000
)

func toUser(u *discordgo.User) channel.User {
	if u == nil {
		return channel.User{}
	}
	out := channel.User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		AvatarURL:  u.AvatarURL(avatarSize),
	}
	if created, err := discordgo.SnowflakeTimestamp(u.ID); err == nil {
		out.CreatedAt = created.UTC()
	}
	return out
}

// toMember converts a member. Role names are ordered from the highest role down.
func toMember(m *discordgo.Member, roles map[string]*discordgo.Role) channel.Member {
	out := channel.Member{
		User:     toUser(m.User),
		GuildID:  m.GuildID,
		Nick:     m.Nick,
		JoinedAt: m.JoinedAt.UTC(),
	}
	if m.User != nil {
		out.AvatarURL = m.AvatarURL(avatarSize)
	}
	held := make([]*discordgo.Role, 0, len(m.Roles))
	for _, id := range m.Roles {
		if r, ok := roles[id]; ok {
			held = append(held, r)
		}
	}
	sort.SliceStable(held, func(i, j int) bool { return held[i].Position > held[j].Position })
	for _, r := range held {
		out.RoleIDs = append(out.RoleIDs, r.ID)
		out.RoleNames = append(out.RoleNames, r.Name)
	}
	return out
}

func toGuild(g *discordgo.Guild) channel.Guild {
	return channel.Guild{ID: g.ID, Name: g.Name, IconURL: g.IconURL(avatarSize)}
}

func toChannel(c *discordgo.Channel) channel.Channel {
	out := channel.Channel{
		ID:       c.ID,
		GuildID:  c.GuildID,
		Name:     c.Name,
		Topic:    c.Topic,
		ParentID: c.ParentID,
		Kind:     channel.ChannelKindText,
	}
	switch c.Type {
	case discordgo.ChannelTypeGuildCategory:
		out.Kind = channel.ChannelKindCategory
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		out.Kind = channel.ChannelKindDirect
	case discordgo.ChannelTypeGuildText:
	default:
		out.Kind = channel.ChannelKind(channelTypeName(c.Type))
	}
	return out
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	default:
		return "other"
	}
}

func toChannelType(kind channel.ChannelKind) discordgo.ChannelType {
	if kind == channel.ChannelKindCategory {
		return discordgo.ChannelTypeGuildCategory
	}
	return discordgo.ChannelTypeGuildText
}

func toOverwrites(in []channel.PermissionOverwrite) []*discordgo.PermissionOverwrite {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, o := range in {
		kind := discordgo.PermissionOverwriteTypeMember
		if o.Role {
			kind = discordgo.PermissionOverwriteTypeRole
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: o.ID, Type: kind, Allow: o.Allow, Deny: o.Deny})
	}
	return out
}

func toMessage(m *discordgo.Message) channel.Message {
	out := channel.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author:    toUser(m.Author),
		Content:   m.Content,
		CreatedAt: m.Timestamp.UTC(),
		Pinned:    m.Pinned,
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		out.Attachments = append(out.Attachments, channel.Attachment{
			ID:          att.ID,
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        int64(att.Size),
			Width:       att.Width,
			Height:      att.Height,
		})
	}
	for _, e := range m.Embeds {
		if e != nil {
			out.Embeds = append(out.Embeds, toEmbed(e))
		}
	}
	for _, s := range m.StickerItems {
		if s != nil {
			out.Stickers = append(out.Stickers, toSticker(s))
		}
	}
	return out
}

func toSticker(s *discordgo.StickerItem) channel.Sticker {
	format := channel.StickerFormat(s.FormatType)
	ext := ".png"
	switch s.FormatType {
	case discordgo.StickerFormatTypeGIF:
		ext = ".gif"
	case discordgo.StickerFormatTypeLottie:
		ext = ".json"
	}
	return channel.Sticker{ID: s.ID, Name: s.Name, Format: format, URL: stickerCDN + s.ID + ext}
}

func toEmbed(e *discordgo.MessageEmbed) channel.Embed {
	out := channel.Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			out.Timestamp = ts.UTC()
		}
	}
	if e.Author != nil {
		out.Author = &channel.EmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	if e.Footer != nil {
		out.Footer = &channel.EmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
	}
	if e.Image != nil {
		out.ImageURL = e.Image.URL
	}
	for _, f := range e.Fields {
		if f != nil {
			out.Fields = append(out.Fields, channel.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
	}
	return out
}

func fromEmbed(e channel.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: truncate(e.Description, maxEmbedDesc),
		URL:         e.URL,
		Color:       e.Color,
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	if e.Author != nil {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	if e.Footer != nil {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func fromEmbeds(in []channel.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		out = append(out, fromEmbed(e))
	}
	return out
}

func fromFiles(in []channel.File) []*discordgo.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(in))
	for _, f := range in {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return out
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit-3]) + "..."
}
