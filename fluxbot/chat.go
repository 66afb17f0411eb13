package fluxbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	ChatOutcomeRateLimited ChatOutcome = "rate_limited"
	ChatOutcomeReset       ChatOutcome = "reset"
	ChatOutcomeCompleted   ChatOutcome = "completed"
	ChatOutcomeTimedOut    ChatOutcome = "timed_out"
	ChatOutcomeFailed      ChatOutcome = "failed"
)

// ChatOutcome is the terminal state of handling one inbound message.
type ChatOutcome string

func (o ChatOutcome) String() string {
	return string(o)
}

// InboundMessage is one message addressed to the bot, already stripped of
// the bot mention. It carries just enough of the transport message for the
// pipeline to identify the conversation.
type InboundMessage struct {
	UserID    string
	ChannelID string
	Content   string
	DM        bool
}

func (m InboundMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", m.UserID),
		slog.String("channel_id", m.ChannelID),
		slog.Bool("dm", m.DM),
		slog.String("content", m.Content),
	)
}

// ChatPipeline handles one inbound chat message end to end: rate check,
// trigger classification, optional search augmentation, prompt assembly,
// generation, memory update, and chunking of the reply.
//
// Each message runs on its own goroutine; the store and limiter do their
// own locking, and no lock is held across a network call.
type ChatPipeline struct {
	store        *ConversationStore
	limiter      *RateLimiter
	searcher     Searcher
	generator    Generator
	systemPrompt string
	clock        func() time.Time
	logger       *slog.Logger
}

func newChatPipeline(
	config *ChatConfig,
	searcher Searcher,
	generator Generator,
	logger *slog.Logger,
) *ChatPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatPipeline{
		store: NewConversationStore(
			config.MaxWindowTurns,
			config.WindowTTL,
			logger,
		),
		limiter:      NewRateLimiter(config.RateLimitInterval),
		searcher:     searcher,
		generator:    generator,
		systemPrompt: defaultSystemPrompt,
		clock:        time.Now,
		logger:       logger,
	}
}

// HandleMessage runs the pipeline for one message and returns the terminal
// outcome plus the replies to deliver, in order. Replies are already
// chunked to fit the transport limit.
func (p *ChatPipeline) HandleMessage(
	ctx context.Context,
	msg InboundMessage,
) (ChatOutcome, []string) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = p.logger
	}
	logger = logger.With("message", msg)

	if !p.limiter.CheckAndRecord(msg.UserID, p.clock()) {
		logger.InfoContext(ctx, "rate limited", "user_id", msg.UserID)
		return ChatOutcomeRateLimited, []string{rateLimitNotice}
	}

	key := NewConversationKey(msg.UserID, msg.ChannelID, msg.DM)
	trigger := ClassifyMessage(msg.Content)
	logger = logger.With("trigger", trigger.Kind.String())

	if trigger.Kind == TriggerReset {
		existed := p.store.Clear(key)
		logger.InfoContext(ctx, "cleared conversation", "existed", existed)
		return ChatOutcomeReset, []string{resetNotice}
	}

	content := trigger.Content
	var searchContext string

	switch trigger.Kind {
	case TriggerExplicitSearch, TriggerImplicitSearch:
		results := p.searcher.Search(ctx, trigger.Query, searchResultsForPrompt)
		searchContext = FormatResultsForPrompt(results, trigger.Query)
		logger.InfoContext(
			ctx,
			"search performed",
			"query", trigger.Query,
			"results", len(results),
		)
		if content == "" {
			content = fmt.Sprintf("tell me about %s", trigger.Query)
		}
	}

	promptContent := content
	if searchContext != "" {
		promptContent = fmt.Sprintf(
			"%s\n(Note: I searched the web for %q to help answer this.)",
			content,
			trigger.Query,
		)
	}

	window := p.store.Read(key)
	prompt := buildPrompt(p.systemPrompt, searchContext, window, promptContent)

	output, err := p.generator.Generate(ctx, prompt)
	switch {
	case errors.Is(err, ErrGenerationTimeout):
		// a failed turn is not remembered
		logger.ErrorContext(ctx, "generation timed out", tint.Err(err))
		return ChatOutcomeTimedOut, []string{generationTimeoutNotice}
	case err != nil:
		logger.ErrorContext(ctx, "generation failed", tint.Err(err))
		return ChatOutcomeFailed, []string{genericErrorNotice}
	}

	p.store.AppendExchange(key, content, output)
	logger.InfoContext(ctx, "chat turn complete", "response_len", len(output))

	return ChatOutcomeCompleted, chunkMessage(
		output,
		discordMaxMessageLength-discordMessageChunkMargin,
	)
}

// Clear drops the conversation window for the given conversation,
// reporting whether one existed.
func (p *ChatPipeline) Clear(userID string, channelID string, dm bool) bool {
	return p.store.Clear(NewConversationKey(userID, channelID, dm))
}

// buildPrompt assembles the single prompt string sent to the generation
// backend: system preamble, optional labeled search block, the
// conversation window as alternating User/Assistant lines, the current
// turn, and the assistant cue.
func buildPrompt(
	systemPrompt string,
	searchContext string,
	window []Turn,
	content string,
) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	if searchContext != "" {
		fmt.Fprintf(&b, "Web Search Information:\n%s\n\n", searchContext)
	}

	for _, turn := range window {
		switch turn.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", turn.Content)
		default:
			fmt.Fprintf(&b, "Assistant: %s\n", turn.Content)
		}
	}

	fmt.Fprintf(&b, "User: %s\nAssistant: ", content)
	return b.String()
}
