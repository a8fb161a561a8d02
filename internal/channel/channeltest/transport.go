// Package channeltest provides an in-memory channel.Transport for tests.
package channeltest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/memohai/modmail/internal/channel"
)

// ReactionResponder decides how a user reacts to a confirmation prompt.
type ReactionResponder func(channelID, messageID, userID string, emojis []string) (string, error)

// Calls counts transport operations by name.
type Calls map[string]int

// Transport is a single-guild, in-memory platform.
type Transport struct {
	mu sync.Mutex

	self     channel.User
	guilds   map[string]channel.Guild
	users    map[string]channel.User
	members  map[string]map[string]channel.Member
	channels map[string]channel.Channel
	messages map[string][]channel.Message
	dms      map[string]string
	blocked  map[string]bool
	reacts   map[string][]string

	createErrs []error
	sendErrs   map[string]error
	responder  ReactionResponder
	calls      Calls

	nextID uint64
	clock  time.Time
}

// New creates an empty transport acting as self.
func New(self channel.User) *Transport {
	self.Bot = true
	return &Transport{
		self:     self,
		guilds:   map[string]channel.Guild{},
		users:    map[string]channel.User{self.ID: self},
		members:  map[string]map[string]channel.Member{},
		channels: map[string]channel.Channel{},
		messages: map[string][]channel.Message{},
		dms:      map[string]string{},
		blocked:  map[string]bool{},
		reacts:   map[string][]string{},
		sendErrs: map[string]error{},
		calls:    Calls{},
		nextID:   1100000000000000000,
		clock:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (t *Transport) newID() string {
	t.nextID++
	return strconv.FormatUint(t.nextID, 10)
}

func (t *Transport) tick() time.Time {
	t.clock = t.clock.Add(time.Second)
	return t.clock
}

// AddGuild registers a guild the bot is in.
func (t *Transport) AddGuild(g channel.Guild) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.guilds[g.ID] = g
	if t.members[g.ID] == nil {
		t.members[g.ID] = map[string]channel.Member{}
	}
}

// AddUser registers a user, optionally as a member of the given guilds.
func (t *Transport) AddUser(u channel.User, guildIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[u.ID] = u
	for _, gid := range guildIDs {
		if t.members[gid] == nil {
			t.members[gid] = map[string]channel.Member{}
		}
		t.members[gid][u.ID] = channel.Member{User: u, GuildID: gid, JoinedAt: t.clock.Add(-48 * time.Hour)}
	}
}

// AddMember registers a member with explicit role and nick data.
func (t *Transport) AddMember(m channel.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[m.User.ID] = m.User
	if t.members[m.GuildID] == nil {
		t.members[m.GuildID] = map[string]channel.Member{}
	}
	t.members[m.GuildID][m.User.ID] = m
}

// RemoveMember drops a user's membership in a guild.
func (t *Transport) RemoveMember(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members[guildID], userID)
}

// AddChannel registers a channel, assigning an id when empty.
func (t *Transport) AddChannel(c channel.Channel) channel.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.ID == "" {
		c.ID = t.newID()
	}
	if c.Kind == "" {
		c.Kind = channel.ChannelKindText
	}
	t.channels[c.ID] = c
	return c
}

// RemoveChannel drops a channel without counting it as a DeleteChannel call.
func (t *Transport) RemoveChannel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, id)
	delete(t.messages, id)
}

// BlockDirectMessages makes sends to the user's private conversation fail.
func (t *Transport) BlockDirectMessages(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked[userID] = true
}

// FailCreateChannel queues errors returned by subsequent CreateChannel calls, in order.
func (t *Transport) FailCreateChannel(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createErrs = append(t.createErrs, errs...)
}

// FailSend makes every send to channelID return err. A nil err clears it.
func (t *Transport) FailSend(channelID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.sendErrs, channelID)
		return
	}
	t.sendErrs[channelID] = err
}

// RespondToReactions scripts AwaitReaction. Without a responder AwaitReaction waits for ctx.
func (t *Transport) RespondToReactions(fn ReactionResponder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = fn
}

// Post appends a message authored by author, as if it arrived from the platform.
func (t *Transport) Post(channelID string, author channel.User, content string, attachments ...channel.Attachment) channel.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.channels[channelID]
	msg := channel.Message{
		ID:          t.newID(),
		ChannelID:   channelID,
		GuildID:     ch.GuildID,
		Author:      author,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   t.tick(),
	}
	t.messages[channelID] = append(t.messages[channelID], msg)
	return msg
}

// Messages returns the channel history, oldest first.
func (t *Transport) Messages(channelID string) []channel.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]channel.Message(nil), t.messages[channelID]...)
}

// Channel returns a channel by id.
func (t *Transport) Channel(id string) (channel.Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[id]
	return c, ok
}

// ChannelsIn returns the text channels under a category, sorted by id.
func (t *Transport) ChannelsIn(parentID string) []channel.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []channel.Channel{}
	for _, c := range t.channels {
		if c.ParentID == parentID && c.Kind == channel.ChannelKindText {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DirectChannelID returns the private conversation id with a user, if one was opened.
func (t *Transport) DirectChannelID(userID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dms[userID]
}

// Reactions returns the emojis the bot added to a message.
func (t *Transport) Reactions(messageID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.reacts[messageID]...)
}

// CallCount returns how many times an operation was invoked.
func (t *Transport) CallCount(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

func (t *Transport) count(op string) {
	t.calls[op]++
}

func (t *Transport) Self() channel.User {
	return t.self
}

func (t *Transport) SendMessage(ctx context.Context, channelID string, msg channel.OutboundMessage) (channel.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("SendMessage")
	if err := ctx.Err(); err != nil {
		return channel.Message{}, err
	}
	ch, ok := t.channels[channelID]
	if !ok {
		return channel.Message{}, fmt.Errorf("send to %s: %w", channelID, channel.ErrNotFound)
	}
	if err := t.sendErrs[channelID]; err != nil {
		return channel.Message{}, err
	}
	if ch.IsDirect() {
		for userID, dm := range t.dms {
			if dm == channelID && t.blocked[userID] {
				return channel.Message{}, fmt.Errorf("send to %s: %w", userID, channel.ErrCannotMessageUser)
			}
		}
	}
	if msg.IsEmpty() {
		return channel.Message{}, fmt.Errorf("cannot send an empty message")
	}
	out := channel.Message{
		ID:        t.newID(),
		ChannelID: channelID,
		GuildID:   ch.GuildID,
		Author:    t.self,
		Content:   msg.Content,
		CreatedAt: t.tick(),
	}
	for _, e := range msg.Embeds {
		out.Embeds = append(out.Embeds, e.Clone())
	}
	for _, f := range msg.Files {
		id := t.newID()
		out.Attachments = append(out.Attachments, channel.Attachment{
			ID:          id,
			URL:         fmt.Sprintf("https://cdn.test/attachments/%s/%s/%s", channelID, id, f.Name),
			Filename:    f.Name,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
		})
	}
	t.messages[channelID] = append(t.messages[channelID], out)
	return out, nil
}

func (t *Transport) EditMessage(ctx context.Context, channelID, messageID string, msg channel.OutboundMessage) (channel.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("EditMessage")
	list := t.messages[channelID]
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		if list[i].Author.ID != t.self.ID {
			return channel.Message{}, fmt.Errorf("edit %s: %w", messageID, channel.ErrForbidden)
		}
		list[i].Content = msg.Content
		list[i].Embeds = nil
		for _, e := range msg.Embeds {
			list[i].Embeds = append(list[i].Embeds, e.Clone())
		}
		return list[i], nil
	}
	return channel.Message{}, fmt.Errorf("edit %s: %w", messageID, channel.ErrNotFound)
}

func (t *Transport) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("DeleteMessage")
	list := t.messages[channelID]
	for i := range list {
		if list[i].ID == messageID {
			t.messages[channelID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %s: %w", messageID, channel.ErrNotFound)
}

func (t *Transport) PinMessage(ctx context.Context, channelID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("PinMessage")
	list := t.messages[channelID]
	for i := range list {
		if list[i].ID == messageID {
			list[i].Pinned = true
			return nil
		}
	}
	return fmt.Errorf("pin %s: %w", messageID, channel.ErrNotFound)
}

func (t *Transport) FetchMessage(ctx context.Context, channelID, messageID string) (channel.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("FetchMessage")
	for _, m := range t.messages[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return channel.Message{}, fmt.Errorf("fetch %s: %w", messageID, channel.ErrNotFound)
}

func (t *Transport) History(ctx context.Context, channelID string, limit int) ([]channel.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("History")
	if _, ok := t.channels[channelID]; !ok {
		return nil, fmt.Errorf("history %s: %w", channelID, channel.ErrNotFound)
	}
	list := t.messages[channelID]
	out := make([]channel.Message, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (t *Transport) GetChannel(ctx context.Context, channelID string) (channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("GetChannel")
	c, ok := t.channels[channelID]
	if !ok {
		return channel.Channel{}, fmt.Errorf("channel %s: %w", channelID, channel.ErrNotFound)
	}
	return c, nil
}

func (t *Transport) GuildChannels(ctx context.Context, guildID string) ([]channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("GuildChannels")
	out := []channel.Channel{}
	for _, c := range t.channels {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Transport) CreateChannel(ctx context.Context, guildID string, req channel.ChannelCreate) (channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("CreateChannel")
	if len(t.createErrs) > 0 {
		err := t.createErrs[0]
		t.createErrs = t.createErrs[1:]
		if err != nil {
			return channel.Channel{}, err
		}
	}
	kind := req.Kind
	if kind == "" {
		kind = channel.ChannelKindText
	}
	c := channel.Channel{
		ID:       t.newID(),
		GuildID:  guildID,
		Name:     req.Name,
		Topic:    req.Topic,
		ParentID: req.ParentID,
		Kind:     kind,
	}
	t.channels[c.ID] = c
	return c, nil
}

func (t *Transport) EditChannel(ctx context.Context, channelID string, req channel.ChannelEdit) (channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("EditChannel")
	c, ok := t.channels[channelID]
	if !ok {
		return channel.Channel{}, fmt.Errorf("channel %s: %w", channelID, channel.ErrNotFound)
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Topic != nil {
		c.Topic = *req.Topic
	}
	if req.ParentID != nil {
		c.ParentID = *req.ParentID
	}
	t.channels[channelID] = c
	return c, nil
}

func (t *Transport) DeleteChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("DeleteChannel")
	if _, ok := t.channels[channelID]; !ok {
		return fmt.Errorf("channel %s: %w", channelID, channel.ErrNotFound)
	}
	delete(t.channels, channelID)
	delete(t.messages, channelID)
	return nil
}

func (t *Transport) User(ctx context.Context, userID string) (channel.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return channel.User{}, fmt.Errorf("user %s: %w", userID, channel.ErrNotFound)
	}
	return u, nil
}

func (t *Transport) Member(ctx context.Context, guildID, userID string) (channel.Member, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[guildID][userID]
	if !ok {
		return channel.Member{}, fmt.Errorf("member %s: %w", userID, channel.ErrNotFound)
	}
	return m, nil
}

func (t *Transport) Guild(ctx context.Context, guildID string) (channel.Guild, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.guilds[guildID]
	if !ok {
		return channel.Guild{}, fmt.Errorf("guild %s: %w", guildID, channel.ErrNotFound)
	}
	return g, nil
}

func (t *Transport) MutualGuilds(ctx context.Context, userID string) ([]channel.Guild, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("MutualGuilds")
	out := []channel.Guild{}
	for gid, members := range t.members {
		if _, ok := members[userID]; ok {
			out = append(out, t.guilds[gid])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Transport) DirectChannel(ctx context.Context, userID string) (channel.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[userID]; !ok {
		return channel.Channel{}, fmt.Errorf("user %s: %w", userID, channel.ErrNotFound)
	}
	if id, ok := t.dms[userID]; ok {
		return t.channels[id], nil
	}
	c := channel.Channel{ID: t.newID(), Name: userID, Kind: channel.ChannelKindDirect}
	t.channels[c.ID] = c
	t.dms[userID] = c.ID
	return c, nil
}

func (t *Transport) React(ctx context.Context, channelID, messageID, emoji string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("React")
	t.reacts[messageID] = append(t.reacts[messageID], emoji)
	return nil
}

func (t *Transport) AwaitReaction(ctx context.Context, channelID, messageID, userID string, emojis []string) (channel.Reaction, error) {
	t.mu.Lock()
	responder := t.responder
	t.calls["AwaitReaction"]++
	t.mu.Unlock()
	if responder == nil {
		<-ctx.Done()
		return channel.Reaction{}, ctx.Err()
	}
	emoji, err := responder(channelID, messageID, userID, emojis)
	if err != nil {
		return channel.Reaction{}, err
	}
	return channel.Reaction{MessageID: messageID, ChannelID: channelID, UserID: userID, Emoji: emoji}, nil
}

var _ channel.Transport = (*Transport)(nil)
