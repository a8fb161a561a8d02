// Package channel provides the chat-platform transport abstraction used by the relay engine.
// It defines platform-neutral types for users, channels, messages, embeds and attachments,
// plus the small capability interfaces an adapter (such as Discord) must implement.
package channel

import (
	"fmt"
	"strings"
	"time"
)

// ChannelKind classifies a channel on the platform.
type ChannelKind string

const (
	ChannelKindText     ChannelKind = "text"
	ChannelKindCategory ChannelKind = "category"
	ChannelKindDirect   ChannelKind = "direct"
)

// User is an external identity on the platform.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	GlobalName string    `json:"global_name,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Bot        bool      `json:"bot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName returns the global name when set, otherwise the username.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.GlobalName) != "" {
		return strings.TrimSpace(u.GlobalName)
	}
	if strings.TrimSpace(u.Username) != "" {
		return strings.TrimSpace(u.Username)
	}
	return u.ID
}

// Mention returns the platform mention markup for the user.
func (u User) Mention() string {
	return fmt.Sprintf("<@%s>", u.ID)
}

// IsZero reports whether the user carries no identity.
func (u User) IsZero() bool {
	return strings.TrimSpace(u.ID) == ""
}

// Member is a user's membership in a guild.
type Member struct {
	User      User      `json:"user"`
	GuildID   string    `json:"guild_id"`
	Nick      string    `json:"nick,omitempty"`
	RoleIDs   []string  `json:"role_ids,omitempty"`
	RoleNames []string  `json:"role_names,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// Guild is a minimal description of a server the bot is in.
type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// Channel is a text channel, category or direct-message conversation.
type Channel struct {
	ID       string      `json:"id"`
	GuildID  string      `json:"guild_id,omitempty"`
	Name     string      `json:"name"`
	Topic    string      `json:"topic,omitempty"`
	ParentID string      `json:"parent_id,omitempty"`
	Kind     ChannelKind `json:"kind"`
}

// IsDirect reports whether the channel is a private conversation.
func (c Channel) IsDirect() bool {
	return c.Kind == ChannelKindDirect
}

// PermissionOverwrite grants or denies permissions for a role or member on a channel.
type PermissionOverwrite struct {
	ID    string `json:"id"`
	Role  bool   `json:"role"`
	Allow int64  `json:"allow"`
	Deny  int64  `json:"deny"`
}

// ChannelCreate is the input for creating a guild channel.
type ChannelCreate struct {
	Name       string
	Topic      string
	ParentID   string
	Kind       ChannelKind
	Overwrites []PermissionOverwrite
}

// ChannelEdit carries the channel fields to update. Nil fields are left untouched.
type ChannelEdit struct {
	Name     *string
	Topic    *string
	ParentID *string
}

// Attachment is a file uploaded with a message.
type Attachment struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// StickerFormat is the encoding of a sticker asset.
type StickerFormat int

const (
	StickerFormatPNG StickerFormat = iota + 1
	StickerFormatAPNG
	StickerFormatLottie
	StickerFormatGIF
)

// Raster reports whether the sticker can be embedded as an image without conversion.
func (f StickerFormat) Raster() bool {
	return f == StickerFormatPNG || f == StickerFormatAPNG || f == StickerFormatGIF
}

// Sticker is a platform sticker sent with a message.
type Sticker struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Format StickerFormat `json:"format"`
	URL    string        `json:"url"`
}

// EmbedAuthor is the author block of a structured message.
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedField is one named field of a structured message.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of a structured message.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// Embed is a rich, multi-field message body.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Clone returns a deep copy of the embed.
func (e Embed) Clone() Embed {
	out := e
	if e.Author != nil {
		author := *e.Author
		out.Author = &author
	}
	if e.Footer != nil {
		footer := *e.Footer
		out.Footer = &footer
	}
	if e.Fields != nil {
		out.Fields = append([]EmbedField(nil), e.Fields...)
	}
	return out
}

// File is an upload attached to an outbound message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a message observed on, or returned by, the platform.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      User         `json:"author"`
	Content     string       `json:"content,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Stickers    []Sticker    `json:"stickers,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Pinned      bool         `json:"pinned,omitempty"`
}

// IsPrivate reports whether the message was sent in a private conversation.
func (m Message) IsPrivate() bool {
	return strings.TrimSpace(m.GuildID) == ""
}

// IsEmpty reports whether the message carries no text, attachments or stickers.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" &&
		len(m.Attachments) == 0 &&
		len(m.Stickers) == 0
}

// FirstEmbed returns the first embed of the message, if any.
func (m Message) FirstEmbed() (Embed, bool) {
	if len(m.Embeds) == 0 {
		return Embed{}, false
	}
	return m.Embeds[0], true
}

// OutboundMessage is the content of a message to send or an edit to apply.
type OutboundMessage struct {
	Content string
	Embeds  []Embed
	Files   []File
}

// IsEmpty reports whether the outbound message has nothing to deliver.
func (m OutboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Embeds) == 0 && len(m.Files) == 0
}

// Reaction is an emoji reaction added to a message.
type Reaction struct {
	MessageID string
	ChannelID string
	UserID    string
	Emoji     string
}
