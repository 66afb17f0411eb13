package fluxbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const logChannelName = "bot-logs"

// Role categories whose members may be self-assigned via the roles command.
var selfAssignCategories = []string{"interests", "platforms", "regions"}

// Staff roles that keep read access to private categories.
var staffRoleNames = map[string]bool{
	"Admin":     true,
	"Moderator": true,
	"Staff":     true,
	"Bot":       true,
}

// Roles allowed to post in marketplace-only channels.
var marketplaceWriterNames = map[string]bool{
	"Marketplace Verified": true,
	"Admin":                true,
	"Moderator":            true,
	"Staff":                true,
}

var rolePermissionNames = map[string]int64{
	"administrator":    discordgo.PermissionAdministrator,
	"kick_members":     discordgo.PermissionKickMembers,
	"ban_members":      discordgo.PermissionBanMembers,
	"manage_messages":  discordgo.PermissionManageMessages,
	"manage_channels":  discordgo.PermissionManageChannels,
	"manage_roles":     discordgo.PermissionManageRoles,
	"manage_nicknames": discordgo.PermissionManageNicknames,
	"moderate_members": discordgo.PermissionModerateMembers,
	"mute_members":     discordgo.PermissionVoiceMuteMembers,
}

type RoleSpec struct {
	Name        string `yaml:"name"`
	Color       int    `yaml:"color"`
	Hoist       bool   `yaml:"hoist"`
	Mentionable bool   `yaml:"mentionable"`
	Permissions string `yaml:"permissions"`
}

type ChannelSpec struct {
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"`
	Topic           string   `yaml:"topic"`
	Position        int      `yaml:"position"`
	Slowmode        int      `yaml:"slowmode"`
	UserLimit       int      `yaml:"user_limit"`
	ReadOnly        bool     `yaml:"read_only"`
	AllowedWriters  []string `yaml:"allowed_writers"`
	MarketplaceOnly bool     `yaml:"marketplace_only"`
}

type CategorySpec struct {
	Name     string        `yaml:"name"`
	Position int           `yaml:"position"`
	Private  bool          `yaml:"private"`
	Channels []ChannelSpec `yaml:"channels"`
}

// GuildStructure is the declarative layout loaded from structure.yaml.
// Roles are grouped by category name ("staff", "interests", ...).
type GuildStructure struct {
	Roles      map[string][]RoleSpec `yaml:"roles"`
	Categories []CategorySpec        `yaml:"categories"`
}

// LoadStructure reads and parses a guild structure file.
func LoadStructure(path string) (*GuildStructure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading structure file: %w", err)
	}
	structure := &GuildStructure{}
	if err = yaml.Unmarshal(data, structure); err != nil {
		return nil, fmt.Errorf("error parsing structure file: %w", err)
	}
	return structure, nil
}

// AssignableRoles returns the role names members may grant themselves:
// every interest, platform and region role, plus Guest.
func (g *GuildStructure) AssignableRoles() []string {
	var assignable []string
	for _, category := range selfAssignCategories {
		assignable = append(assignable, g.rolesByCategory(category)...)
	}
	for _, role := range g.Roles["special"] {
		if role.Name == "Guest" {
			assignable = append(assignable, role.Name)
		}
	}
	return assignable
}

func (g *GuildStructure) rolesByCategory(category string) []string {
	names := make([]string, 0, len(g.Roles[category]))
	for _, role := range g.Roles[category] {
		names = append(names, role.Name)
	}
	return names
}

func rolePermissions(spec string) int64 {
	var permissions int64
	for _, name := range strings.Split(spec, ",") {
		permissions |= rolePermissionNames[strings.TrimSpace(name)]
	}
	return permissions
}

// Provisioner creates roles, categories and channels in a guild so it
// matches a GuildStructure. Existing entities with a matching name are
// left untouched, so repeated runs are safe.
type Provisioner struct {
	session   DiscordSessionHandler
	structure *GuildStructure
	logger    *slog.Logger
}

func NewProvisioner(
	session DiscordSessionHandler,
	structure *GuildStructure,
	logger *slog.Logger,
) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{session: session, structure: structure, logger: logger}
}

// SetupGuild brings a guild in line with the configured structure.
// Roles are created first so channel overwrites can reference them.
func (p *Provisioner) SetupGuild(ctx context.Context, guildID string) error {
	logger := p.logger.With("guild_id", guildID)
	logger.InfoContext(ctx, "starting guild setup")

	roles, err := p.setupRoles(ctx, guildID)
	if err != nil {
		return fmt.Errorf("error setting up roles: %w", err)
	}
	if err = p.setupCategories(ctx, guildID, roles); err != nil {
		return fmt.Errorf("error setting up channels: %w", err)
	}
	logger.InfoContext(ctx, "guild setup complete")
	return nil
}

func (p *Provisioner) setupRoles(
	ctx context.Context,
	guildID string,
) (map[string]*discordgo.Role, error) {
	existing, err := p.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("error listing guild roles: %w", err)
	}
	byName := make(map[string]*discordgo.Role, len(existing))
	for _, role := range existing {
		byName[role.Name] = role
	}

	for category, roles := range p.structure.Roles {
		for _, spec := range roles {
			if _, ok := byName[spec.Name]; ok {
				p.logger.DebugContext(
					ctx, "role already exists", "role", spec.Name,
				)
				continue
			}
			permissions := rolePermissions(spec.Permissions)
			color := spec.Color
			hoist := spec.Hoist
			mentionable := spec.Mentionable
			created, err := p.session.GuildRoleCreate(
				guildID,
				&discordgo.RoleParams{
					Name:        spec.Name,
					Color:       &color,
					Hoist:       &hoist,
					Mentionable: &mentionable,
					Permissions: &permissions,
				},
			)
			if err != nil {
				return nil, fmt.Errorf(
					"error creating role %q: %w", spec.Name, err,
				)
			}
			byName[created.Name] = created
			p.logger.InfoContext(
				ctx,
				"created role",
				"role", created.Name,
				"category", category,
			)
		}
	}
	return byName, nil
}

func (p *Provisioner) setupCategories(
	ctx context.Context,
	guildID string,
	roles map[string]*discordgo.Role,
) error {
	channels, err := p.session.GuildChannels(guildID)
	if err != nil {
		return fmt.Errorf("error listing guild channels: %w", err)
	}
	categoriesByName := map[string]*discordgo.Channel{}
	channelsByName := map[string]*discordgo.Channel{}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			categoriesByName[ch.Name] = ch
		} else {
			channelsByName[ch.Name] = ch
		}
	}

	// Categories are independent of each other, so they can be
	// provisioned concurrently. Channels within a category stay
	// sequential to preserve their configured order.
	group, groupCtx := errgroup.WithContext(ctx)
	for _, spec := range p.structure.Categories {
		spec := spec
		category := categoriesByName[spec.Name]
		group.Go(
			func() error {
				return p.setupCategory(
					groupCtx, guildID, spec, category, channelsByName, roles,
				)
			},
		)
	}
	return group.Wait()
}

func (p *Provisioner) setupCategory(
	ctx context.Context,
	guildID string,
	spec CategorySpec,
	category *discordgo.Channel,
	channelsByName map[string]*discordgo.Channel,
	roles map[string]*discordgo.Role,
) error {
	if category == nil {
		var overwrites []*discordgo.PermissionOverwrite
		if spec.Private {
			overwrites = privateOverwrites(guildID, roles)
		}
		created, err := p.session.GuildChannelCreateComplex(
			guildID,
			discordgo.GuildChannelCreateData{
				Name:                 spec.Name,
				Type:                 discordgo.ChannelTypeGuildCategory,
				Position:             spec.Position,
				PermissionOverwrites: overwrites,
			},
		)
		if err != nil {
			return fmt.Errorf("error creating category %q: %w", spec.Name, err)
		}
		category = created
		p.logger.InfoContext(ctx, "created category", "category", spec.Name)
	}

	for _, channelSpec := range spec.Channels {
		if existing, ok := channelsByName[channelSpec.Name]; ok &&
			existing.ParentID == category.ID {
			p.logger.DebugContext(
				ctx,
				"channel already exists",
				"channel", channelSpec.Name,
				"category", spec.Name,
			)
			continue
		}
		if err := p.createChannel(
			ctx, guildID, category.ID, channelSpec, roles,
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) createChannel(
	ctx context.Context,
	guildID string,
	parentID string,
	spec ChannelSpec,
	roles map[string]*discordgo.Role,
) error {
	data := discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     discordgo.ChannelTypeGuildText,
		Position: spec.Position,
		ParentID: parentID,
	}
	switch {
	case spec.Type == "voice":
		data.Type = discordgo.ChannelTypeGuildVoice
		data.UserLimit = spec.UserLimit
	default:
		data.Topic = spec.Topic
		data.RateLimitPerUser = spec.Slowmode
	}
	switch {
	case spec.ReadOnly:
		data.PermissionOverwrites = readOnlyOverwrites(
			guildID, spec.AllowedWriters, roles,
		)
	case spec.MarketplaceOnly:
		data.PermissionOverwrites = marketplaceOverwrites(guildID, roles)
	}

	if _, err := p.session.GuildChannelCreateComplex(guildID, data); err != nil {
		return fmt.Errorf("error creating channel %q: %w", spec.Name, err)
	}
	p.logger.InfoContext(
		ctx, "created channel", "channel", spec.Name, "type", spec.Type,
	)
	return nil
}

// privateOverwrites hides a category from @everyone while keeping it
// visible to staff. The everyone role shares the guild's ID.
func privateOverwrites(
	guildID string,
	roles map[string]*discordgo.Role,
) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}
	for name, role := range roles {
		if staffRoleNames[name] {
			overwrites = append(
				overwrites,
				&discordgo.PermissionOverwrite{
					ID:    role.ID,
					Type:  discordgo.PermissionOverwriteTypeRole,
					Allow: discordgo.PermissionViewChannel,
				},
			)
		}
	}
	return overwrites
}

func readOnlyOverwrites(
	guildID string,
	allowedWriters []string,
	roles map[string]*discordgo.Role,
) []*discordgo.PermissionOverwrite {
	writers := map[string]bool{"Admin": true}
	for _, name := range allowedWriters {
		writers[name] = true
	}
	deny := discordgo.PermissionSendMessages |
		discordgo.PermissionAddReactions |
		discordgo.PermissionCreatePublicThreads |
		discordgo.PermissionCreatePrivateThreads
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: int64(deny),
		},
	}
	for name, role := range roles {
		if writers[name] {
			overwrites = append(
				overwrites,
				&discordgo.PermissionOverwrite{
					ID:   role.ID,
					Type: discordgo.PermissionOverwriteTypeRole,
					Allow: discordgo.PermissionSendMessages |
						discordgo.PermissionAddReactions,
				},
			)
		}
	}
	return overwrites
}

func marketplaceOverwrites(
	guildID string,
	roles map[string]*discordgo.Role,
) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionSendMessages,
		},
	}
	for name, role := range roles {
		if marketplaceWriterNames[name] {
			overwrites = append(
				overwrites,
				&discordgo.PermissionOverwrite{
					ID:    role.ID,
					Type:  discordgo.PermissionOverwriteTypeRole,
					Allow: discordgo.PermissionSendMessages,
				},
			)
		}
	}
	return overwrites
}

// findLogChannel locates the guild's bot-logs text channel, returning
// an empty string when the guild has none.
func findLogChannel(session DiscordSessionHandler, guildID string) string {
	channels, err := session.GuildChannels(guildID)
	if err != nil {
		return ""
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == logChannelName {
			return ch.ID
		}
	}
	return ""
}

const (
	embedColorGreen = 0x2ecc71
	embedColorRed   = 0xe74c3c
	embedColorBlue  = 0x3498db
)

func memberJoinEmbed(member *discordgo.Member) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Member Joined",
		Description: fmt.Sprintf("%s joined the server", member.Mention()),
		Color:       embedColorGreen,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("ID: %s", member.User.ID),
		},
	}
	if avatar := member.AvatarURL(""); avatar != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: avatar}
	}
	return embed
}

func memberLeaveEmbed(member *discordgo.Member) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Member Left",
		Description: fmt.Sprintf("%s left the server", member.Mention()),
		Color:       embedColorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("ID: %s", member.User.ID),
		},
	}
	if avatar := member.AvatarURL(""); avatar != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: avatar}
	}
	return embed
}

func roleChangeEmbed(
	member *discordgo.Member,
	added []string,
	removed []string,
) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Member Roles Updated",
		Description: fmt.Sprintf("%s's roles changed", member.Mention()),
		Color:       embedColorBlue,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("ID: %s", member.User.ID),
		},
	}
	if len(added) > 0 {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "Added Roles",
				Value: strings.Join(added, ", "),
			},
		)
	}
	if len(removed) > 0 {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "Removed Roles",
				Value: strings.Join(removed, ", "),
			},
		)
	}
	return embed
}
