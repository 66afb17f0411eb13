package fluxbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/sudoflux/fluxbot/fluxbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// FluxBot is the root of the application: it owns the gateway connection,
// the chat pipeline and the backends, and ties gateway events to them.
type FluxBot struct {
	config *Config

	discord *Discord
	chat    *ChatPipeline
	search  *SearchProvider
	ollama  *OllamaClient
	image   *ImageClient

	structure   *GuildStructure
	provisioner *Provisioner
	assignable  []string

	logger     *slog.Logger
	logHandler slog.Handler

	// signalStop triggers a graceful shutdown when signaled
	signalStop chan struct{}

	// signalReady is signaled when the gateway connection is up and
	// commands are registered
	signalReady chan struct{}

	// eventShutdown is signaled when the shutdown completes
	eventShutdown chan struct{}

	// runMu prevents concurrent Run calls
	runMu sync.Mutex

	startedAt time.Time

	metricMessagesSeen    atomic.Int64
	metricMessagesHandled atomic.Int64
	metricImagesGenerated atomic.Int64
}

// New creates a FluxBot from the given config. The bot doesn't touch the
// network until Run is called.
func New(config *Config) (*FluxBot, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &FluxBot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	b.logHandler = newTintHandler(config.LogLevel)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	config.Discord.httpClient = config.HTTPClient

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			newTintHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
				[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
			),
		)
		disc.logger = componentLogger("discord", config.Discord.LogLevel)
		b.discord = disc
	}

	b.search = NewSearchProvider(
		config.Search,
		config.HTTPClient,
		componentLogger("search", config.Search.LogLevel),
	)
	b.ollama = NewOllamaClient(
		config.Ollama,
		config.HTTPClient,
		componentLogger("ollama", config.Ollama.LogLevel),
	)
	if config.Image.Enabled {
		b.image = NewImageClient(
			config.Image,
			config.HTTPClient,
			componentLogger("image", config.Image.LogLevel),
		)
	}
	b.chat = newChatPipeline(
		config.Chat,
		b.search,
		b.ollama,
		b.logger.With(loggerNameKey, "chat"),
	)

	if config.Discord.StructureFile != "" {
		structure, structErr := LoadStructure(config.Discord.StructureFile)
		switch {
		case structErr == nil:
			b.structure = structure
			b.assignable = structure.AssignableRoles()
		case errors.Is(structErr, os.ErrNotExist):
			b.logger.Warn(
				"structure file not found, setup and roles commands limited",
				"path", config.Discord.StructureFile,
			)
		default:
			errs = append(errs, structErr)
		}
	}

	return b, errors.Join(errs...)
}

func (b *FluxBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands registers the bot's slash commands with Discord.
func (b *FluxBot) RegisterSlashCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return b.discord.registerCommands(
		b.config.Image.Enabled,
		b.assignable,
		options...,
	)
}

// Run connects to the gateway and blocks until the context is canceled or
// Stop is called, then shuts down gracefully.
func (b *FluxBot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.initRun(startCtx, ctx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup canceled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "ready")

	<-ctx.Done()
	return b.shutdown(context.WithoutCancel(ctx))
}

// Stop triggers a graceful shutdown and waits for it to complete.
func (b *FluxBot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
	<-b.eventShutdown
}

// initRun creates the gateway session, wires the event handlers, opens the
// connection and registers slash commands.
func (b *FluxBot) initRun(startCtx context.Context, ctx context.Context) error {
	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	if _, err = session.GatewayBot(
		discordgo.WithContext(startCtx),
		discordgo.WithRetryOnRatelimit(false),
	); err != nil {
		return fmt.Errorf("error getting gateway bot info: %w", err)
	}

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.discord.handlerGuildMemberAdd()),
		session.AddHandler(b.discord.handlerGuildMemberRemove()),
		session.AddHandler(b.discord.handlerGuildMemberUpdate()),
		session.AddHandler(b.handlerMessageCreate(ctx)),
		session.AddHandler(b.handlerInteractionCreate(ctx)),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if b.structure != nil {
		b.provisioner = NewProvisioner(
			session,
			b.structure,
			b.logger.With(loggerNameKey, "provisioner"),
		)
	}

	if _, err = b.RegisterSlashCommands(
		discordgo.WithContext(startCtx),
	); err != nil {
		return fmt.Errorf("error registering slash commands: %w", err)
	}
	return nil
}

func (b *FluxBot) shutdown(ctx context.Context) error {
	logger := b.logger
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, b.config.ShutdownTimeout)
	defer cancel()

	defer func() {
		b.config.HTTPClient.CloseIdleConnections()
		b.eventShutdown <- struct{}{}
		logger.Info("shutdown complete")
	}()

	for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}

	closed := make(chan error, 1)
	go func() {
		closed <- b.discord.session.Close()
	}()
	select {
	case err := <-closed:
		if err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			return err
		}
	case <-shutdownCtx.Done():
		return fmt.Errorf("timed out closing discord session")
	}
	return nil
}

// botUserID returns the gateway user's ID, falling back to the configured
// application ID before the Ready event has arrived.
func (b *FluxBot) botUserID(s *discordgo.Session) string {
	if s != nil && s.State != nil && s.State.User != nil {
		return s.State.User.ID
	}
	return b.config.Discord.ApplicationID
}

func (b *FluxBot) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// SyncEvents is enabled, so get off the gateway goroutine
		// before doing anything slow.
		go b.handleDiscordMessage(WithLogger(ctx, b.logger), s, m)
	}
}

// handleDiscordMessage decides whether an incoming message is addressed to
// the bot, and if so runs it through the chat pipeline and delivers the
// replies.
func (b *FluxBot) handleDiscordMessage(
	ctx context.Context,
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	b.metricMessagesSeen.Add(1)

	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}

	author := m.Author
	if author == nil && m.Member != nil {
		author = m.Member.User
	}
	if author == nil || author.Bot || author.ID == b.botUserID(s) {
		return
	}
	if m.MentionEveryone {
		return
	}

	dm := m.GuildID == ""
	if !dm && !messageMentionsUser(m.Message, b.botUserID(s)) {
		return
	}

	content := stripBotMention(m.Content, b.botUserID(s))
	if content == "" {
		return
	}

	b.metricMessagesHandled.Add(1)
	logger = logger.With(
		"user_id", author.ID,
		"channel_id", m.ChannelID,
		"dm", dm,
	)

	if err := b.discord.session.ChannelTyping(m.ChannelID); err != nil {
		logger.Debug("error sending typing indicator", tint.Err(err))
	}

	outcome, replies := b.chat.HandleMessage(
		WithLogger(ctx, logger),
		InboundMessage{
			UserID:    author.ID,
			ChannelID: m.ChannelID,
			Content:   content,
			DM:        dm,
		},
	)
	logger.InfoContext(ctx, "handled message", "outcome", outcome)

	for i, reply := range replies {
		var err error
		if i == 0 {
			_, err = b.discord.session.ChannelMessageSendReply(
				m.ChannelID, reply, m.Reference(),
			)
		} else {
			_, err = b.discord.session.ChannelMessageSend(m.ChannelID, reply)
		}
		if err != nil {
			logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
			return
		}
	}
}

func (b *FluxBot) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		go b.handleInteraction(WithLogger(ctx, b.logger), i)
	}
}

func (b *FluxBot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	data := i.ApplicationCommandData()
	user := getDiscordUser(i)

	logger := b.logger.With("command", data.Name)
	if user != nil {
		logger = logger.With("user_id", user.ID)
	}
	ctx = WithLogger(ctx, logger)

	if err := b.discord.session.InteractionRespond(
		i.Interaction, b.discord.ackResponse(data.Name),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	switch data.Name {
	case DiscordSlashCommandImagine:
		b.runImagineCommand(ctx, i, data)
	case DiscordSlashCommandSetup:
		b.runSetupCommand(ctx, i)
	case DiscordSlashCommandRoles:
		b.runRolesCommand(ctx, i, data)
	default:
		logger.WarnContext(ctx, "unknown command")
		b.editInteractionContent(ctx, i, genericErrorNotice)
	}
}

func (b *FluxBot) editInteractionContent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	if _, err := b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger, ok := ContextLogger(ctx)
		if logger == nil || !ok {
			logger = b.logger
		}
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}

func commandOptions(
	data discordgo.ApplicationCommandInteractionData,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(data.Options),
	)
	for _, opt := range data.Options {
		options[opt.Name] = opt
	}
	return options
}

func (b *FluxBot) runImagineCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	if b.image == nil {
		b.editInteractionContent(ctx, i, "Image generation isn't enabled.")
		return
	}
	logger, _ := ContextLogger(ctx)

	options := commandOptions(data)
	prompt := options["prompt"].StringValue()
	var negative string
	if opt, ok := options["negative"]; ok {
		negative = opt.StringValue()
	}
	seed := int64(-1)
	if opt, ok := options["seed"]; ok {
		seed = opt.IntValue()
	}

	if !b.image.Healthy(ctx) {
		logger.WarnContext(ctx, "image backend unavailable")
		b.editInteractionContent(
			ctx, i, "❌ The image generator is offline right now. Try again later.",
		)
		return
	}

	image, err := b.image.Generate(ctx, prompt, negative, seed)
	if err != nil {
		logger.ErrorContext(ctx, "image generation failed", tint.Err(err))
		b.editInteractionContent(
			ctx, i, "❌ Image generation failed. Please try again later.",
		)
		return
	}
	b.metricImagesGenerated.Add(1)

	content := fmt.Sprintf("**%s** (seed: %d)", truncate(prompt, 200), image.Seed)
	if _, err = b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Content: &content,
			Files: []*discordgo.File{
				{
					Name:        "fluxbot.png",
					ContentType: "image/png",
					Reader:      bytes.NewReader(image.Data),
				},
			},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending image", tint.Err(err))
	}
}

func (b *FluxBot) runSetupCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, _ := ContextLogger(ctx)

	if b.provisioner == nil {
		b.editInteractionContent(
			ctx, i, "No structure file is configured, nothing to set up.",
		)
		return
	}
	if i.GuildID == "" {
		b.editInteractionContent(ctx, i, "This command only works in a server.")
		return
	}

	if err := b.provisioner.SetupGuild(ctx, i.GuildID); err != nil {
		logger.ErrorContext(ctx, "guild setup failed", tint.Err(err))
		b.editInteractionContent(
			ctx, i, fmt.Sprintf("❌ Error during setup: %s", err),
		)
		return
	}
	b.editInteractionContent(
		ctx,
		i,
		"✅ Server setup complete! All roles, categories, and channels have been created.",
	)
}

func (b *FluxBot) runRolesCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	logger, _ := ContextLogger(ctx)

	if i.GuildID == "" || i.Member == nil {
		b.editInteractionContent(ctx, i, "This command only works in a server.")
		return
	}
	if len(b.assignable) == 0 {
		b.editInteractionContent(ctx, i, "No self-assignable roles are configured.")
		return
	}

	options := commandOptions(data)
	action := options["action"].StringValue()

	guildRoles, err := b.discord.session.GuildRoles(i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing guild roles", tint.Err(err))
		b.editInteractionContent(ctx, i, genericErrorNotice)
		return
	}
	rolesByName := make(map[string]*discordgo.Role, len(guildRoles))
	rolesByID := make(map[string]*discordgo.Role, len(guildRoles))
	for _, role := range guildRoles {
		rolesByName[role.Name] = role
		rolesByID[role.ID] = role
	}

	if action == "list" {
		var current []string
		for _, roleID := range i.Member.Roles {
			if role, ok := rolesByID[roleID]; ok &&
				slices.Contains(b.assignable, role.Name) {
				current = append(current, role.Name)
			}
		}
		b.editInteractionContent(ctx, i, formatRolesList(current, b.assignable))
		return
	}

	var roleName string
	if opt, ok := options["role"]; ok {
		roleName = opt.StringValue()
	}
	if roleName == "" {
		b.editInteractionContent(
			ctx, i, "Pick a role to add or remove.",
		)
		return
	}
	if !slices.Contains(b.assignable, roleName) {
		b.editInteractionContent(
			ctx, i, fmt.Sprintf("**%s** isn't self-assignable.", roleName),
		)
		return
	}
	role, ok := rolesByName[roleName]
	if !ok {
		b.editInteractionContent(
			ctx,
			i,
			fmt.Sprintf("**%s** doesn't exist yet. Ask an admin to run setup.", roleName),
		)
		return
	}

	hasRole := slices.Contains(i.Member.Roles, role.ID)
	switch action {
	case "add":
		if hasRole {
			b.editInteractionContent(
				ctx, i, fmt.Sprintf("You already have **%s**!", roleName),
			)
			return
		}
		if err = b.discord.session.GuildMemberRoleAdd(
			i.GuildID, getDiscordUser(i).ID, role.ID,
		); err != nil {
			logger.ErrorContext(ctx, "error adding role", tint.Err(err))
			b.editInteractionContent(ctx, i, genericErrorNotice)
			return
		}
		b.editInteractionContent(
			ctx, i, fmt.Sprintf("Added role: **%s**", roleName),
		)
	case "remove":
		if !hasRole {
			b.editInteractionContent(
				ctx, i, fmt.Sprintf("You don't have **%s**!", roleName),
			)
			return
		}
		if err = b.discord.session.GuildMemberRoleRemove(
			i.GuildID, getDiscordUser(i).ID, role.ID,
		); err != nil {
			logger.ErrorContext(ctx, "error removing role", tint.Err(err))
			b.editInteractionContent(ctx, i, genericErrorNotice)
			return
		}
		b.editInteractionContent(
			ctx, i, fmt.Sprintf("Removed role: **%s**", roleName),
		)
	default:
		b.editInteractionContent(ctx, i, genericErrorNotice)
	}
}
