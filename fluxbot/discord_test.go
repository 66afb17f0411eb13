package fluxbot

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSession implements DiscordSessionHandler with in-memory guild state
// and recorded calls.
type mockSession struct {
	mu sync.Mutex

	roles    []*discordgo.Role
	channels []*discordgo.Channel

	sentMessages      []string
	sentEmbeds        []*discordgo.MessageEmbed
	bulkCommands      []*discordgo.ApplicationCommand
	memberRoleAdds    []string
	memberRoleRemoves []string

	nextID int
}

func (m *mockSession) newID() string {
	m.nextID++
	return fmt.Sprintf("id-%d", m.nextID)
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { return nil }

func (m *mockSession) GatewayBot(
	_ ...discordgo.RequestOption,
) (*discordgo.GatewayBotResponse, error) {
	return &discordgo.GatewayBotResponse{}, nil
}

func (m *mockSession) AddHandler(any) func() { return func() {} }

func (m *mockSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, message)
	return &discordgo.Message{ID: m.newID(), ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessageSendReply(
	channelID string,
	content string,
	_ *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.ChannelMessageSend(channelID, content)
}

func (m *mockSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentEmbeds = append(m.sentEmbeds, embed)
	return &discordgo.Message{ID: m.newID(), ChannelID: channelID}, nil
}

func (m *mockSession) ChannelTyping(
	string,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCommands = commands
	return commands, nil
}

func (m *mockSession) InteractionRespond(
	*discordgo.Interaction,
	*discordgo.InteractionResponse,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newresp.Content != nil {
		m.sentMessages = append(m.sentMessages, *newresp.Content)
	}
	return &discordgo.Message{ID: m.newID()}, nil
}

func (m *mockSession) UpdateCustomStatus(string) error { return nil }

func (m *mockSession) GuildRoles(
	string,
	...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*discordgo.Role, len(m.roles))
	copy(out, m.roles)
	return out, nil
}

func (m *mockSession) GuildRoleCreate(
	_ string,
	data *discordgo.RoleParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := &discordgo.Role{ID: m.newID(), Name: data.Name}
	if data.Color != nil {
		role.Color = *data.Color
	}
	if data.Hoist != nil {
		role.Hoist = *data.Hoist
	}
	if data.Mentionable != nil {
		role.Mentionable = *data.Mentionable
	}
	if data.Permissions != nil {
		role.Permissions = *data.Permissions
	}
	m.roles = append(m.roles, role)
	return role, nil
}

func (m *mockSession) GuildChannels(
	string,
	...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*discordgo.Channel, len(m.channels))
	copy(out, m.channels)
	return out, nil
}

func (m *mockSession) GuildChannelCreateComplex(
	_ string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel := &discordgo.Channel{
		ID:                   m.newID(),
		Name:                 data.Name,
		Type:                 data.Type,
		Topic:                data.Topic,
		ParentID:             data.ParentID,
		UserLimit:            data.UserLimit,
		RateLimitPerUser:     data.RateLimitPerUser,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	m.channels = append(m.channels, channel)
	return channel, nil
}

func (m *mockSession) GuildMemberRoleAdd(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberRoleAdds = append(m.memberRoleAdds, userID+":"+roleID)
	return nil
}

func (m *mockSession) GuildMemberRoleRemove(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberRoleRemoves = append(m.memberRoleRemoves, userID+":"+roleID)
	return nil
}

func (m *mockSession) SetHTTPClient(*http.Client)     {}
func (m *mockSession) SetIdentify(discordgo.Identify) {}
func (m *mockSession) SetLogLevel(slog.Level) error   { return nil }

func newTestDiscord(t *testing.T, session *mockSession) *Discord {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "app-id"
	cfg.Discord.NotificationChannelID = "notify-chan"

	d, err := newDiscord(cfg.Discord)
	require.NoError(t, err)
	d.logger = slog.Default()
	d.session = session
	return d
}

func TestMessageMentionsUser(t *testing.T) {
	t.Parallel()

	msg := &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "bot-id"}, {ID: "someone"}},
	}
	assert.True(t, messageMentionsUser(msg, "bot-id"))
	assert.False(t, messageMentionsUser(msg, "other-id"))
	assert.False(t, messageMentionsUser(nil, "bot-id"))
	assert.False(t, messageMentionsUser(&discordgo.Message{}, "bot-id"))
}

func TestGetDiscordUser(t *testing.T) {
	t.Parallel()

	dmUser := &discordgo.User{ID: "dm-user"}
	guildUser := &discordgo.User{ID: "guild-user"}

	assert.Equal(
		t,
		dmUser,
		getDiscordUser(
			&discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{User: dmUser},
			},
		),
	)
	assert.Equal(
		t,
		guildUser,
		getDiscordUser(
			&discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{User: guildUser},
				},
			},
		),
	)
}

func TestAckResponseFlags(t *testing.T) {
	t.Parallel()

	d := &Discord{}

	// imagine output is public; admin/self-service commands are ephemeral
	assert.Equal(
		t,
		discordgo.MessageFlagsLoading,
		d.ackResponseFlag(DiscordSlashCommandImagine),
	)
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		d.ackResponseFlag(DiscordSlashCommandSetup),
	)
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		d.ackResponseFlag(DiscordSlashCommandRoles),
	)

	resp := d.ackResponse(DiscordSlashCommandRoles)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		resp.Type,
	)
}

func TestRegisterCommands(t *testing.T) {
	t.Parallel()

	session := &mockSession{}
	d := newTestDiscord(t, session)

	created, err := d.registerCommands(false, []string{"Tech", "Gaming"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	names := []string{created[0].Name, created[1].Name}
	assert.Contains(t, names, DiscordSlashCommandSetup)
	assert.Contains(t, names, DiscordSlashCommandRoles)

	// enabling the image backend registers /imagine too
	created, err = d.registerCommands(true, []string{"Tech", "Gaming"})
	require.NoError(t, err)
	require.Len(t, created, 3)
}

func TestAppCommandRolesChoicesCapped(t *testing.T) {
	t.Parallel()

	d := &Discord{}

	assignable := make([]string, 30)
	for i := range assignable {
		assignable[i] = fmt.Sprintf("Role%d", i)
	}

	cmd := d.appCommandRoles(assignable)
	require.Len(t, cmd.Options, 2)
	roleOption := cmd.Options[1]
	assert.Equal(t, "role", roleOption.Name)
	assert.Len(t, roleOption.Choices, 25)
}

func TestRoleDiff(t *testing.T) {
	t.Parallel()

	added, removed := roleDiff(
		[]string{"a", "b", "c"},
		[]string{"b", "c", "d"},
	)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"a"}, removed)

	added, removed = roleDiff([]string{"a"}, []string{"a"})
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestHandlerConnectSendsStartupMessage(t *testing.T) {
	t.Parallel()

	session := &mockSession{}
	d := newTestDiscord(t, session)
	d.config.StartupMessage = "bot is online!"

	handler := d.handlerConnect()
	handler(nil, &discordgo.Connect{})

	require.Len(t, session.sentMessages, 1)
	assert.Equal(t, "bot is online!", session.sentMessages[0])
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.connected.Load())
}
