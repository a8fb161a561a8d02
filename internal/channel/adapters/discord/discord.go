// Package discord implements the relay transport on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/modmail/internal/channel"
)

const inboundDedupTTL = time.Minute

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

// Adapter is the discordgo transport. One adapter serves one bot token.
type Adapter struct {
	session *discordgo.Session
	api     restAPI
	logger  *slog.Logger

	mu           sync.RWMutex
	self         channel.User
	guilds       map[string]channel.Guild
	dms          map[string]string
	roles        map[string]map[string]*discordgo.Role
	seenMessages map[string]time.Time
	waiters      map[string][]*reactionWaiter
	removers     []func()
	connected    bool
}

// NewAdapter creates an adapter for the bot token. Call Connect to open the gateway.
func NewAdapter(log *slog.Logger, token string) (*Adapter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = intents
	// Events are handled on the gateway goroutine in the order they arrive.
	session.SyncEvents = true
	a := newAdapter(log, session)
	a.session = session
	return a, nil
}

func newAdapter(log *slog.Logger, api restAPI) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		api:          api,
		logger:       log.With(slog.String("adapter", "discord")),
		guilds:       map[string]channel.Guild{},
		dms:          map[string]string{},
		roles:        map[string]map[string]*discordgo.Role{},
		seenMessages: map[string]time.Time{},
		waiters:      map[string][]*reactionWaiter{},
	}
}

// Connect opens the gateway and delivers every new message to handler, one at a
// time and in gateway order. handler must not block.
func (a *Adapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if a.session == nil {
		return nil, errors.New("discord session not configured")
	}
	a.logger.Info("start")

	removers := []func(){
		a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.onReady(r)
		}),
		a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
			if g.Guild != nil {
				a.setGuild(toGuild(g.Guild))
			}
		}),
		a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
			if g.Guild != nil {
				a.removeGuild(g.ID)
			}
		}),
		a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
			if r.GuildRole != nil {
				a.invalidateRoles(r.GuildID)
			}
		}),
		a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			if r.MessageReaction != nil {
				a.dispatchReaction(channel.Reaction{
					MessageID: r.MessageID,
					ChannelID: r.ChannelID,
					UserID:    r.UserID,
					Emoji:     r.Emoji.Name,
				})
			}
		}),
		a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.onMessageCreate(ctx, m, handler)
		}),
	}
	a.mu.Lock()
	a.removers = append(a.removers, removers...)
	a.mu.Unlock()

	if err := a.session.Open(); err != nil {
		a.clearHandlers()
		return nil, fmt.Errorf("discord open connection: %w", err)
	}
	a.mu.Lock()
	a.connected = true
	if a.session.State != nil && a.session.State.User != nil {
		a.self = toUser(a.session.State.User)
	}
	a.mu.Unlock()

	stop := func(context.Context) error {
		a.logger.Info("stop")
		a.clearHandlers()
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		return a.session.Close()
	}
	return channel.NewConnection(stop), nil
}

// Connected reports whether the gateway connection is open.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) clearHandlers() {
	a.mu.Lock()
	removers := a.removers
	a.removers = nil
	a.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
}

func (a *Adapter) onReady(r *discordgo.Ready) {
	a.mu.Lock()
	if r.User != nil {
		a.self = toUser(r.User)
	}
	for _, g := range r.Guilds {
		if g != nil {
			a.guilds[g.ID] = toGuild(g)
		}
	}
	a.mu.Unlock()
	a.logger.Info("gateway ready", slog.String("user_id", a.Self().ID), slog.Int("guilds", len(r.Guilds)))
}

func (a *Adapter) onMessageCreate(ctx context.Context, m *discordgo.MessageCreate, handler channel.InboundHandler) {
	if m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if a.isDuplicateInbound(m.ID) {
		return
	}
	msg := toMessage(m.Message)
	if msg.IsEmpty() {
		return
	}
	a.logger.Debug("inbound received",
		slog.String("channel_id", msg.ChannelID),
		slog.String("user_id", msg.Author.ID),
		slog.Bool("private", msg.IsPrivate()),
	)
	if err := handler(ctx, msg); err != nil {
		a.logger.Error("handle inbound failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

func (a *Adapter) setGuild(g channel.Guild) {
	a.mu.Lock()
	a.guilds[g.ID] = g
	a.mu.Unlock()
}

func (a *Adapter) removeGuild(id string) {
	a.mu.Lock()
	delete(a.guilds, id)
	delete(a.roles, id)
	a.mu.Unlock()
}

func (a *Adapter) guildList() []channel.Guild {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]channel.Guild, 0, len(a.guilds))
	for _, g := range a.guilds {
		out = append(out, g)
	}
	return out
}

func (a *Adapter) isDuplicateInbound(messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}
	if _, ok := a.seenMessages[messageID]; ok {
		return true
	}
	a.seenMessages[messageID] = now
	return false
}

var (
	_ channel.Transport = (*Adapter)(nil)
	_ channel.Receiver  = (*Adapter)(nil)
)
