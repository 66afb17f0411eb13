package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sudoflux/fluxbot/fluxbot"
)

var (
	cfg        = fluxbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "fluxbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes a log level name into a *slog.LevelVar.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", fluxbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", fluxbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", fluxbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.startup_message",
		fluxbot.DefaultDiscordStartupMessage,
	)
	viper.SetDefault("discord.custom_status", fluxbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.structure_file", fluxbot.DefaultStructureFile)
	viper.SetDefault(
		"discord.gateway_intents",
		fluxbot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.log_level",
		fluxbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		fluxbot.DefaultDiscordgoLogLevel.String(),
	)

	// Ollama config
	viper.SetDefault("ollama.host", fluxbot.DefaultOllamaHost)
	viper.SetDefault("ollama.port", fluxbot.DefaultOllamaPort)
	viper.SetDefault("ollama.model", fluxbot.DefaultOllamaModel)
	viper.SetDefault("ollama.timeout", fluxbot.DefaultOllamaTimeout)
	viper.SetDefault("ollama.log_level", fluxbot.DefaultOllamaLogLevel.String())

	// Search config
	viper.SetDefault("search.searx_url", "")
	viper.SetDefault("search.searx_timeout", fluxbot.DefaultSearxTimeout)
	viper.SetDefault("search.scrape_base_url", fluxbot.DefaultScrapeBaseURL)
	viper.SetDefault("search.scrape_timeout", fluxbot.DefaultScrapeTimeout)
	viper.SetDefault("search.language", fluxbot.DefaultSearchLanguage)
	viper.SetDefault("search.user_agent", fluxbot.DefaultSearchUserAgent)
	viper.SetDefault("search.log_level", fluxbot.DefaultSearchLogLevel.String())

	// Image config
	viper.SetDefault("image.enabled", false)
	viper.SetDefault("image.base_url", fluxbot.DefaultImageBaseURL)
	viper.SetDefault("image.timeout", fluxbot.DefaultImageTimeout)
	viper.SetDefault("image.log_level", fluxbot.DefaultImageLogLevel.String())

	// Chat config
	viper.SetDefault("chat.max_window_turns", fluxbot.DefaultMaxWindowTurns)
	viper.SetDefault("chat.window_ttl", fluxbot.DefaultWindowTTL)
	viper.SetDefault(
		"chat.rate_limit_interval",
		fluxbot.DefaultRateLimitInterval,
	)

	envPrefix := os.Getenv(fluxbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = fluxbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"ollama.log_level",
		"search.log_level",
		"image.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
