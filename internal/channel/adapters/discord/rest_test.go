package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/modmail/internal/channel"
)

type fakeAPI struct {
	mu          sync.Mutex
	history     []*discordgo.Message
	pages       []string
	members     map[string]map[string]*discordgo.Member
	roles       map[string][]*discordgo.Role
	roleCalls   int
	dmCalls     int
	sent        []*discordgo.MessageSend
	edits       []*discordgo.MessageEdit
	channelEdit *discordgo.ChannelEdit
	created     []discordgo.GuildChannelCreateData
	failCreate  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		members: map[string]map[string]*discordgo.Member{},
		roles:   map[string][]*discordgo.Role{},
	}
}

func unknown(code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{Status: "404 Not Found", StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: code},
	}
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: strconv.Itoa(len(f.sent)), ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}, nil
}

func (f *fakeAPI) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, m)
	out := &discordgo.Message{ID: m.ID, ChannelID: m.Channel}
	if m.Content != nil {
		out.Content = *m.Content
	}
	if m.Embeds != nil {
		out.Embeds = *m.Embeds
	}
	return out, nil
}

func (f *fakeAPI) ChannelMessageDelete(string, string, ...discordgo.RequestOption) error { return nil }
func (f *fakeAPI) ChannelMessagePin(string, string, ...discordgo.RequestOption) error    { return nil }

func (f *fakeAPI) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	for _, m := range f.history {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, unknown(discordgo.ErrCodeUnknownMessage)
}

// ChannelMessages serves history newest first, paging with beforeID.
func (f *fakeAPI) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, beforeID)
	start := 0
	if beforeID != "" {
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

func (f *fakeAPI) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (f *fakeAPI) GuildChannels(string, ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return nil, nil
}

func (f *fakeAPI) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.created = append(f.created, data)
	return &discordgo.Channel{ID: "new", GuildID: guildID, Name: data.Name, Topic: data.Topic, ParentID: data.ParentID, Type: data.Type}, nil
}

func (f *fakeAPI) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.channelEdit = data
	return &discordgo.Channel{ID: channelID, Name: data.Name, Topic: data.Topic}, nil
}

func (f *fakeAPI) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return nil, unknown(discordgo.ErrCodeUnknownChannel)
}

func (f *fakeAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: userID, Username: "user" + userID}, nil
}

func (f *fakeAPI) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m, ok := f.members[guildID][userID]; ok {
		return m, nil
	}
	return nil, unknown(discordgo.ErrCodeUnknownMember)
}

func (f *fakeAPI) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "Guild " + guildID}, nil
}

func (f *fakeAPI) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleCalls++
	return f.roles[guildID], nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls++
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeAPI) MessageReactionAdd(string, string, string, ...discordgo.RequestOption) error {
	return nil
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	for i := 250; i > 0; i-- {
		api.history = append(api.history, &discordgo.Message{ID: strconv.Itoa(i), Content: fmt.Sprintf("m%d", i)})
	}
	a := newAdapter(nil, api)

	msgs, err := a.History(context.Background(), "c1", 230)
	require.NoError(t, err)
	require.Len(t, msgs, 230)
	assert.Equal(t, "250", msgs[0].ID)
	assert.Equal(t, "21", msgs[229].ID)
	assert.Equal(t, []string{"", "151", "51"}, api.pages)
}

func TestHistoryStopsOnShortPage(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	for i := 3; i > 0; i-- {
		api.history = append(api.history, &discordgo.Message{ID: strconv.Itoa(i)})
	}
	a := newAdapter(nil, api)

	msgs, err := a.History(context.Background(), "c1", 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	assert.Len(t, api.pages, 1)
}

func TestMutualGuildsSkipsNonMembers(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.members["g1"] = map[string]*discordgo.Member{"u1": {User: &discordgo.User{ID: "u1"}}}
	a := newAdapter(nil, api)
	a.setGuild(channel.Guild{ID: "g1", Name: "One"})
	a.setGuild(channel.Guild{ID: "g2", Name: "Two"})

	guilds, err := a.MutualGuilds(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "g1", guilds[0].ID)

	guilds, err = a.MutualGuilds(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Empty(t, guilds)
}

func TestMemberCachesRolesWithoutEveryone(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.roles["g1"] = []*discordgo.Role{
		{ID: "g1", Name: "@everyone", Position: 0},
		{ID: "mod", Name: "Moderator", Position: 4},
	}
	api.members["g1"] = map[string]*discordgo.Member{
		"u1": {User: &discordgo.User{ID: "u1", Username: "bob"}, Roles: []string{"g1", "mod"}},
	}
	a := newAdapter(nil, api)

	for i := 0; i < 2; i++ {
		m, err := a.Member(context.Background(), "g1", "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Moderator"}, m.RoleNames)
		assert.Equal(t, "g1", m.GuildID)
	}
	assert.Equal(t, 1, api.roleCalls)

	a.invalidateRoles("g1")
	_, err := a.Member(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.roleCalls)

	_, err = a.Member(context.Background(), "g1", "ghost")
	assert.True(t, errors.Is(err, channel.ErrNotFound))
}

func TestDirectChannelIsCached(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	a := newAdapter(nil, api)

	for i := 0; i < 3; i++ {
		ch, err := a.DirectChannel(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "dm-u1", ch.ID)
		assert.True(t, ch.IsDirect())
	}
	assert.Equal(t, 1, api.dmCalls)
}

func TestSendAndEditMessage(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	a := newAdapter(nil, api)
	ctx := context.Background()

	_, err := a.SendMessage(ctx, " ", channel.OutboundMessage{Content: "x"})
	require.Error(t, err)

	sent, err := a.SendMessage(ctx, "c1", channel.OutboundMessage{
		Embeds: []channel.Embed{{Title: "Hello"}},
		Files:  []channel.File{{Name: "a.txt", Data: []byte("abc")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", sent.ChannelID)
	require.Len(t, api.sent, 1)
	require.Len(t, api.sent[0].Files, 1)
	assert.Equal(t, "a.txt", api.sent[0].Files[0].Name)

	edited, err := a.EditMessage(ctx, "c1", sent.ID, channel.OutboundMessage{Embeds: []channel.Embed{{Title: "Edited"}}})
	require.NoError(t, err)
	require.Len(t, edited.Embeds, 1)
	assert.Equal(t, "Edited", edited.Embeds[0].Title)
	assert.Equal(t, sent.ID, api.edits[0].ID)
}

func TestChannelAdmin(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	a := newAdapter(nil, api)
	ctx := context.Background()

	ch, err := a.CreateChannel(ctx, "g1", channel.ChannelCreate{
		Name:       "modmail",
		Kind:       channel.ChannelKindCategory,
		Overwrites: []channel.PermissionOverwrite{{ID: "g1", Role: true, Deny: 1024}},
	})
	require.NoError(t, err)
	assert.Equal(t, channel.ChannelKindCategory, ch.Kind)
	require.Len(t, api.created[0].PermissionOverwrites, 1)
	assert.Equal(t, discordgo.PermissionOverwriteTypeRole, api.created[0].PermissionOverwrites[0].Type)

	topic := "User ID: 1"
	_, err = a.EditChannel(ctx, "c1", channel.ChannelEdit{Topic: &topic})
	require.NoError(t, err)
	assert.Equal(t, topic, api.channelEdit.Topic)
	assert.Empty(t, api.channelEdit.Name)

	err = a.DeleteChannel(ctx, "c1")
	assert.True(t, errors.Is(err, channel.ErrNotFound))

	api.failCreate = restError(400, discordgo.ErrCodeInvalidFormBody, "Maximum number of channels in category reached (50)")
	_, err = a.CreateChannel(ctx, "g1", channel.ChannelCreate{Name: "x"})
	assert.True(t, errors.Is(err, channel.ErrCategoryFull))
}

func TestGuildFallsBackToREST(t *testing.T) {
	t.Parallel()

	a := newAdapter(nil, newFakeAPI())
	g, err := a.Guild(context.Background(), "g9")
	require.NoError(t, err)
	assert.Equal(t, "Guild g9", g.Name)
	assert.Len(t, a.guildList(), 1)
}

func TestIsDuplicateInbound(t *testing.T) {
	t.Parallel()

	a := newAdapter(nil, newFakeAPI())
	if a.isDuplicateInbound("m1") {
		t.Fatal("expected first delivery to pass")
	}
	if !a.isDuplicateInbound("m1") {
		t.Fatal("expected duplicate delivery to be dropped")
	}
	if a.isDuplicateInbound("") {
		t.Fatal("expected empty id to pass")
	}
}
