package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/modmail/internal/channel"
)

const historyPageSize = 100

// restAPI is the subset of *discordgo.Session the transport calls.
type restAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

func (a *Adapter) Self() channel.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.self
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, msg channel.OutboundMessage) (channel.Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return channel.Message{}, errors.New("discord target is required")
	}
	sent, err := a.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: truncate(msg.Content, maxContent),
		Embeds:  fromEmbeds(msg.Embeds),
		Files:   fromFiles(msg.Files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Message{}, classifyError(err)
	}
	return toMessage(sent), nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID string, msg channel.OutboundMessage) (channel.Message, error) {
	content := truncate(msg.Content, maxContent)
	embeds := fromEmbeds(msg.Embeds)
	edited, err := a.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:      messageID,
		Channel: channelID,
		Content: &content,
		Embeds:  &embeds,
		Files:   fromFiles(msg.Files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Message{}, classifyError(err)
	}
	return toMessage(edited), nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return classifyError(a.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (a *Adapter) PinMessage(ctx context.Context, channelID, messageID string) error {
	return classifyError(a.api.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (channel.Message, error) {
	msg, err := a.api.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Message{}, classifyError(err)
	}
	if msg.ChannelID == "" {
		msg.ChannelID = channelID
	}
	return toMessage(msg), nil
}

// History pages backwards through the channel until limit messages are read.
func (a *Adapter) History(ctx context.Context, channelID string, limit int) ([]channel.Message, error) {
	if limit <= 0 {
		limit = historyPageSize
	}
	out := make([]channel.Message, 0, limit)
	before := ""
	for len(out) < limit {
		page := limit - len(out)
		if page > historyPageSize {
			page = historyPageSize
		}
		msgs, err := a.api.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, classifyError(err)
		}
		for _, m := range msgs {
			if m != nil {
				out = append(out, toMessage(m))
			}
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return out, nil
}

func (a *Adapter) GetChannel(ctx context.Context, channelID string) (channel.Channel, error) {
	ch, err := a.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Channel{}, classifyError(err)
	}
	return toChannel(ch), nil
}

func (a *Adapter) GuildChannels(ctx context.Context, guildID string) ([]channel.Channel, error) {
	chs, err := a.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyError(err)
	}
	out := make([]channel.Channel, 0, len(chs))
	for _, ch := range chs {
		if ch != nil {
			out = append(out, toChannel(ch))
		}
	}
	return out, nil
}

func (a *Adapter) CreateChannel(ctx context.Context, guildID string, req channel.ChannelCreate) (channel.Channel, error) {
	ch, err := a.api.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 toChannelType(req.Kind),
		Topic:                req.Topic,
		ParentID:             req.ParentID,
		PermissionOverwrites: toOverwrites(req.Overwrites),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Channel{}, classifyError(err)
	}
	return toChannel(ch), nil
}

func (a *Adapter) EditChannel(ctx context.Context, channelID string, req channel.ChannelEdit) (channel.Channel, error) {
	data := &discordgo.ChannelEdit{}
	if req.Name != nil {
		data.Name = *req.Name
	}
	if req.Topic != nil {
		data.Topic = *req.Topic
	}
	if req.ParentID != nil {
		data.ParentID = *req.ParentID
	}
	ch, err := a.api.ChannelEditComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Channel{}, classifyError(err)
	}
	return toChannel(ch), nil
}

func (a *Adapter) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := a.api.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return classifyError(err)
}

func (a *Adapter) User(ctx context.Context, userID string) (channel.User, error) {
	u, err := a.api.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.User{}, classifyError(err)
	}
	return toUser(u), nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (channel.Member, error) {
	m, err := a.api.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Member{}, classifyError(err)
	}
	if m.GuildID == "" {
		m.GuildID = guildID
	}
	roles, err := a.guildRoles(ctx, guildID)
	if err != nil {
		a.logger.Warn("load guild roles failed", slog.String("guild_id", guildID), slog.Any("error", err))
	}
	return toMember(m, roles), nil
}

func (a *Adapter) guildRoles(ctx context.Context, guildID string) (map[string]*discordgo.Role, error) {
	a.mu.RLock()
	cached, ok := a.roles[guildID]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}
	list, err := a.api.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyError(err)
	}
	roles := make(map[string]*discordgo.Role, len(list))
	for _, r := range list {
		// @everyone shares the guild id.
		if r != nil && r.ID != guildID {
			roles[r.ID] = r
		}
	}
	a.mu.Lock()
	a.roles[guildID] = roles
	a.mu.Unlock()
	return roles, nil
}

func (a *Adapter) invalidateRoles(guildID string) {
	a.mu.Lock()
	delete(a.roles, guildID)
	a.mu.Unlock()
}

func (a *Adapter) Guild(ctx context.Context, guildID string) (channel.Guild, error) {
	a.mu.RLock()
	g, ok := a.guilds[guildID]
	a.mu.RUnlock()
	if ok && g.Name != "" {
		return g, nil
	}
	guild, err := a.api.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Guild{}, classifyError(err)
	}
	g = toGuild(guild)
	a.setGuild(g)
	return g, nil
}

// MutualGuilds checks membership in every guild the bot is in.
func (a *Adapter) MutualGuilds(ctx context.Context, userID string) ([]channel.Guild, error) {
	var out []channel.Guild
	for _, g := range a.guildList() {
		_, err := a.api.GuildMember(g.ID, userID, discordgo.WithContext(ctx))
		if errors.Is(classifyError(err), channel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check membership in %s: %w", g.ID, classifyError(err))
		}
		out = append(out, g)
	}
	return out, nil
}

func (a *Adapter) DirectChannel(ctx context.Context, userID string) (channel.Channel, error) {
	a.mu.RLock()
	id, ok := a.dms[userID]
	a.mu.RUnlock()
	if ok {
		return channel.Channel{ID: id, Name: userID, Kind: channel.ChannelKindDirect}, nil
	}
	ch, err := a.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Channel{}, classifyError(err)
	}
	a.mu.Lock()
	a.dms[userID] = ch.ID
	a.mu.Unlock()
	out := toChannel(ch)
	out.Kind = channel.ChannelKindDirect
	return out, nil
}

func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	return classifyError(a.api.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}
