//nolint:lll // struct tags can't be split
package fluxbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "FLUXBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "FLUX"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultOllamaLogLevel       = slog.LevelInfo
	DefaultSearchLogLevel       = slog.LevelInfo
	DefaultImageLogLevel        = slog.LevelInfo
	DefaultDiscordCustomStatus  = "mention me or DM me!"
	DefaultDiscordStartupMessage = "I'm here!"

	DefaultOllamaHost    = "127.0.0.1"
	DefaultOllamaPort    = 11434
	DefaultOllamaModel   = "qwen2.5:14b"
	DefaultOllamaTimeout = 30 * time.Second

	DefaultSearxTimeout     = 5 * time.Second
	DefaultScrapeTimeout    = 10 * time.Second
	DefaultSearchLanguage   = "en"
	DefaultScrapeBaseURL    = "https://html.duckduckgo.com/html"
	DefaultSearchUserAgent  = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:91.0) Gecko/20100101 Firefox/91.0"

	DefaultImageBaseURL = "http://127.0.0.1:7860"
	DefaultImageTimeout = 60 * time.Second
	DefaultImageWidth   = 1024
	DefaultImageHeight  = 1024
	DefaultImageSteps   = 4

	DefaultMaxWindowTurns    = 10
	DefaultWindowTTL         = 30 * time.Minute
	DefaultRateLimitInterval = 2 * time.Second

	DefaultStructureFile = "structure.yaml"

	DiscordSlashCommandImagine = "imagine"
	DiscordSlashCommandSetup   = "setup"
	DiscordSlashCommandRoles   = "roles"

	// discordMaxMessageLength is the hard transport limit on a single
	// Discord message.
	discordMaxMessageLength = 2000

	// discordMessageChunkMargin is subtracted from the transport limit when
	// chunking generated output into sequential replies.
	discordMessageChunkMargin = 100

	// Rendering caps used by the display formatting of search results.
	searchDisplayTitleLimit   = 100
	searchDisplaySnippetLimit = 200

	// searchResultsForPrompt is how many results are folded into the
	// generation prompt; searchResultsForDisplay is how many a scrape
	// attempt collects before filtering.
	searchResultsForPrompt  = 3
	searchResultsForDisplay = 5
)

// DefaultDiscordGatewayIntent covers guilds, members and message content,
// which the chat pipeline and provisioning both need.
const DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentMessageContent |
	discordgo.IntentGuildMembers

// Fixed user-facing notices. These mirror how the bot has always spoken;
// they are deliberately not configurable.
const (
	rateLimitNotice         = "⏳ Please wait a moment before sending another message!"
	generationTimeoutNotice = "⏱️ The AI is taking too long to respond. Please try again!"
	genericErrorNotice      = "sorry, something went wrong!"
	resetNotice             = "🧹 Conversation cleared! We're starting fresh."
)

// defaultSystemPrompt is the fixed preamble sent ahead of every
// generation request.
const defaultSystemPrompt = `You are a helpful Discord bot assistant for the sudoflux.io community server.
You're friendly, knowledgeable about tech, gaming, retro computing, mechanical keyboards, and homelabs.
Keep responses concise and engaging. Use Discord markdown when helpful.
Be helpful but also casual and fun. You can use appropriate emojis occasionally.
If asked about the server, mention it's a tech and gaming community focused on DevOps, retro gaming, keyboards, and homelabs.`

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// Config is the top-level configuration for the bot.
type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on how long the bot has to open the
	// gateway session and register commands before startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown. After
	// this elapses, remaining connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Ollama configures the generation backend
	Ollama *OllamaConfig `yaml:"ollama" mapstructure:"ollama" json:"ollama"`

	// Search configures the web search fallback chain
	Search *SearchConfig `yaml:"search" mapstructure:"search" json:"search"`

	// Image configures the image-generation backend
	Image *ImageConfig `yaml:"image" mapstructure:"image" json:"image"`

	// Chat configures conversation memory and rate limiting
	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild used when registering slash commands and
	// when provisioning. Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// NotificationChannelID, if set, receives StartupMessage whenever the
	// bot connects to the gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is set as the bot user's status after connecting.
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StructureFile is the YAML file describing the guild's roles,
	// categories and channels, used by the /setup and /roles commands.
	StructureFile string `yaml:"structure_file" mapstructure:"structure_file" json:"structure_file"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// OllamaConfig configures the generation backend integration.
type OllamaConfig struct {
	// Host and Port of the Ollama server
	Host string `yaml:"host" mapstructure:"host" json:"host" binding:"required"`
	Port int    `yaml:"port" mapstructure:"port" json:"port" binding:"required,min=1,max=65535"`

	// Model is the model name passed on every generation request
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// Timeout bounds a single generation call. The remote may still finish
	// the work after the call is abandoned locally.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// SearchConfig configures the search fallback chain. SearxURL is the
// primary (self-hosted) backend; when it's empty or fails at the transport
// level, the scraping backend is used.
type SearchConfig struct {
	// SearxURL is the base URL of a SearXNG instance. Empty disables the
	// primary backend entirely.
	SearxURL string `yaml:"searx_url" mapstructure:"searx_url" json:"searx_url"`

	// SearxTimeout bounds a SearXNG query.
	SearxTimeout time.Duration `yaml:"searx_timeout" mapstructure:"searx_timeout" json:"searx_timeout" binding:"min=1s"`

	// ScrapeBaseURL is the HTML endpoint scraped as the fallback backend.
	ScrapeBaseURL string `yaml:"scrape_base_url" mapstructure:"scrape_base_url" json:"scrape_base_url"`

	// ScrapeTimeout bounds a scrape request.
	ScrapeTimeout time.Duration `yaml:"scrape_timeout" mapstructure:"scrape_timeout" json:"scrape_timeout" binding:"min=1s"`

	// Language is passed to the SearXNG query.
	Language string `yaml:"language" mapstructure:"language" json:"language"`

	// UserAgent sent on scrape requests.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent" json:"user_agent"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ImageConfig configures the image-generation backend.
type ImageConfig struct {
	// Enabled controls whether the /imagine command is registered.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// BaseURL of the image server.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required_if=Enabled true"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ChatConfig configures conversation memory and the per-user rate limit.
type ChatConfig struct {
	// MaxWindowTurns caps how many turns one conversation window retains.
	MaxWindowTurns int `yaml:"max_window_turns" mapstructure:"max_window_turns" json:"max_window_turns" binding:"min=1"`

	// WindowTTL is the age past which a stored turn becomes invisible.
	WindowTTL time.Duration `yaml:"window_ttl" mapstructure:"window_ttl" json:"window_ttl" binding:"min=1s"`

	// RateLimitInterval is the minimum gap between accepted messages from
	// one user.
	RateLimitInterval time.Duration `yaml:"rate_limit_interval" mapstructure:"rate_limit_interval" json:"rate_limit_interval" binding:"min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	ollamaLogLevel := &slog.LevelVar{}
	searchLogLevel := &slog.LevelVar{}
	imageLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	ollamaLogLevel.Set(DefaultOllamaLogLevel)
	searchLogLevel.Set(DefaultSearchLogLevel)
	imageLogLevel.Set(DefaultImageLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			StructureFile:     DefaultStructureFile,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Ollama: &OllamaConfig{
			Host:     DefaultOllamaHost,
			Port:     DefaultOllamaPort,
			Model:    DefaultOllamaModel,
			Timeout:  DefaultOllamaTimeout,
			LogLevel: ollamaLogLevel,
		},
		Search: &SearchConfig{
			SearxTimeout:  DefaultSearxTimeout,
			ScrapeBaseURL: DefaultScrapeBaseURL,
			ScrapeTimeout: DefaultScrapeTimeout,
			Language:      DefaultSearchLanguage,
			UserAgent:     DefaultSearchUserAgent,
			LogLevel:      searchLogLevel,
		},
		Image: &ImageConfig{
			Enabled:  false,
			BaseURL:  DefaultImageBaseURL,
			Timeout:  DefaultImageTimeout,
			LogLevel: imageLogLevel,
		},
		Chat: &ChatConfig{
			MaxWindowTurns:    DefaultMaxWindowTurns,
			WindowTTL:         DefaultWindowTTL,
			RateLimitInterval: DefaultRateLimitInterval,
		},
	}
}
