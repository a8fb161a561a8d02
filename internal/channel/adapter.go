package channel

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the referenced channel, message, user or member does not exist.
	ErrNotFound = errors.New("channel resource not found")
	// ErrForbidden indicates the bot lacks permission for the operation.
	ErrForbidden = errors.New("channel operation forbidden")
	// ErrCategoryFull indicates the target category cannot hold more channels.
	ErrCategoryFull = errors.New("channel category is full")
	// ErrNameRejected indicates the platform refused the channel name.
	ErrNameRejected = errors.New("channel name rejected")
	// ErrCannotMessageUser indicates the user does not accept private messages from the bot.
	ErrCannotMessageUser = errors.New("cannot send messages to this user")
)

// MessageSender sends messages to a channel.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID string, msg OutboundMessage) (Message, error)
}

// MessageEditor edits, deletes and pins already-sent messages.
type MessageEditor interface {
	EditMessage(ctx context.Context, channelID, messageID string, msg OutboundMessage) (Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
}

// HistoryReader reads single messages and recent channel history.
type HistoryReader interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	// History returns up to limit messages, newest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// ChannelAdmin provisions and manages guild channels.
type ChannelAdmin interface {
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateChannel(ctx context.Context, guildID string, req ChannelCreate) (Channel, error)
	EditChannel(ctx context.Context, channelID string, req ChannelEdit) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// Directory resolves users, members and private conversations.
type Directory interface {
	Self() User
	User(ctx context.Context, userID string) (User, error)
	Member(ctx context.Context, guildID, userID string) (Member, error)
	Guild(ctx context.Context, guildID string) (Guild, error)
	// MutualGuilds lists guilds shared between the bot and the user.
	MutualGuilds(ctx context.Context, userID string) ([]Guild, error)
	DirectChannel(ctx context.Context, userID string) (Channel, error)
}

// Reactor adds reactions and waits for reactions from users.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
	// AwaitReaction blocks until userID reacts to the message with one of emojis,
	// or ctx is done.
	AwaitReaction(ctx context.Context, channelID, messageID, userID string, emojis []string) (Reaction, error)
}

// Transport is the full platform surface the relay engine relies on.
type Transport interface {
	MessageSender
	MessageEditor
	HistoryReader
	ChannelAdmin
	Directory
	Reactor
}

// InboundHandler is invoked for every message the platform delivers to the bot.
// Receivers call it serially in delivery order, so it must hand long work off.
type InboundHandler func(ctx context.Context, msg Message) error

// Receiver is a transport able to deliver inbound messages.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Connection represents an active, long-lived link to the platform.
type Connection interface {
	Stop(ctx context.Context) error
	Running() bool
}
