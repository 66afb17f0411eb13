package fluxbot

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the gateway connection, slash command registration and
// connection-state bookkeeping. Message and interaction handling lives on
// FluxBot, which owns the pipeline.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes the discordgo-backed session for the Discord
// struct, with the configured token, intents and log level.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

func (*Discord) ackResponseFlag(command string) discordgo.MessageFlags {
	switch command {
	case DiscordSlashCommandImagine:
		return discordgo.MessageFlagsLoading
	default:
		return discordgo.MessageFlagsEphemeral
	}
}

// ackResponse returns the deferred ("thinking") response sent to
// acknowledge an interaction before the real work starts.
func (d *Discord) ackResponse(commandName string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: d.ackResponseFlag(commandName),
		},
	}
}

func (*Discord) appCommandImagine() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandImagine,
		Description: "Generate an image from a text prompt",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "prompt",
				Description: "What to draw",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "negative",
				Description: "What to avoid drawing",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "seed",
				Description: "Seed for reproducible output (-1 for random)",
			},
		},
	}
}

func (*Discord) appCommandSetup() *discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	dmDisabled := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandSetup,
		Description:              "Create the server's roles, categories and channels",
		DefaultMemberPermissions: &adminOnly,
		DMPermission:             &dmDisabled,
	}
}

func (*Discord) appCommandRoles(assignable []string) *discordgo.ApplicationCommand {
	dmDisabled := false
	roleOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "role",
		Description: "Role name (required for add and remove)",
	}
	// Discord caps choice lists at 25 entries.
	for i, name := range assignable {
		if i == 25 {
			break
		}
		roleOption.Choices = append(
			roleOption.Choices,
			&discordgo.ApplicationCommandOptionChoice{Name: name, Value: name},
		)
	}
	return &discordgo.ApplicationCommand{
		Name:         DiscordSlashCommandRoles,
		Description:  "Manage your self-assignable roles",
		DMPermission: &dmDisabled,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "action",
				Description: "What to do",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "add", Value: "add"},
					{Name: "remove", Value: "remove"},
					{Name: "list", Value: "list"},
				},
			},
			roleOption,
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint. The imagine command is only registered when the
// image backend is enabled.
func (d *Discord) registerCommands(
	imageEnabled bool,
	assignableRoles []string,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandSetup(),
		d.appCommandRoles(assignableRoles),
	}
	if imageEnabled {
		commands = append(commands, d.appCommandImagine())
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("registered command", "command", c.Name)
	}
	return created, nil
}

func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		var userID string
		var username string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)

		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
		if d.config.CustomStatus != "" {
			if statusErr := d.updateCustomStatus(
				d.config.CustomStatus,
			); statusErr != nil {
				d.logger.Error("unable to set custom status", tint.Err(statusErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

func (d *Discord) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	e *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		channelID := findLogChannel(d.session, e.GuildID)
		if channelID == "" {
			return
		}
		if _, err := d.session.ChannelMessageSendEmbed(
			channelID, memberJoinEmbed(e.Member),
		); err != nil {
			d.logger.Error("error logging member join", tint.Err(err))
		}
	}
}

func (d *Discord) handlerGuildMemberRemove() func(
	s *discordgo.Session,
	e *discordgo.GuildMemberRemove,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		channelID := findLogChannel(d.session, e.GuildID)
		if channelID == "" {
			return
		}
		if _, err := d.session.ChannelMessageSendEmbed(
			channelID, memberLeaveEmbed(e.Member),
		); err != nil {
			d.logger.Error("error logging member leave", tint.Err(err))
		}
	}
}

func (d *Discord) handlerGuildMemberUpdate() func(
	s *discordgo.Session,
	e *discordgo.GuildMemberUpdate,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		// BeforeUpdate is only populated when member state tracking is on.
		if e.BeforeUpdate == nil {
			return
		}
		added, removed := roleDiff(e.BeforeUpdate.Roles, e.Roles)
		if len(added) == 0 && len(removed) == 0 {
			return
		}
		channelID := findLogChannel(d.session, e.GuildID)
		if channelID == "" {
			return
		}
		if _, err := d.session.ChannelMessageSendEmbed(
			channelID,
			roleChangeEmbed(e.Member, mentionRoles(added), mentionRoles(removed)),
		); err != nil {
			d.logger.Error("error logging role change", tint.Err(err))
		}
	}
}

func roleDiff(before []string, after []string) (added []string, removed []string) {
	prev := make(map[string]bool, len(before))
	for _, id := range before {
		prev[id] = true
	}
	next := make(map[string]bool, len(after))
	for _, id := range after {
		next[id] = true
		if !prev[id] {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !next[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func mentionRoles(roleIDs []string) []string {
	mentions := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		mentions = append(mentions, fmt.Sprintf("<@&%s>", id))
	}
	return mentions
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// DiscordSessionHandler defines the methods used from discordgo.Session,
// to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// GatewayBot returns gateway connection info for the configured token
	GatewayBot(
		options ...discordgo.RequestOption,
	) (*discordgo.GatewayBotResponse, error)

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to the given channel
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelTyping shows the typing indicator in the given channel
	ChannelTyping(
		channelID string,
		options ...discordgo.RequestOption,
	) error

	// ApplicationCommandBulkOverwrite overwrites the registered slash
	// commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction's response
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// GuildRoles lists a guild's roles
	GuildRoles(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Role, error)

	// GuildRoleCreate creates a guild role
	GuildRoleCreate(
		guildID string,
		data *discordgo.RoleParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Role, error)

	// GuildChannels lists a guild's channels
	GuildChannels(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Channel, error)

	// GuildChannelCreateComplex creates a guild channel from the given data
	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// GuildMemberRoleAdd grants a role to a guild member
	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	// GuildMemberRoleRemove revokes a role from a guild member
	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session]
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	*discordgo.GatewayBotResponse,
	error,
) {
	return d.session.GatewayBot(options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
		)
	} else {
		d.logger.Debug(
			"sent message reply",
			"channel_id", channelID,
			"message_id", msg.ID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, options...)
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID, guildID, commands, options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) GuildRoleCreate(
	guildID string,
	data *discordgo.RoleParams,
	options ...discordgo.RequestOption,
) (*discordgo.Role, error) {
	return d.session.GuildRoleCreate(guildID, data, options...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, options...)
}

func (d DiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.GuildChannelCreateComplex(guildID, data, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// messageMentionsUser reports whether the message explicitly mentions the
// given user.
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil {
		return false
	}
	for _, mention := range m.Mentions {
		if mention.ID == userID {
			return true
		}
	}
	return false
}

// getDiscordUser returns the [discordgo.User] associated with the
// interaction. Users don't always appear in the same place in the
// interaction object, so this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
