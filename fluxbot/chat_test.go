package fluxbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	results []SearchResult
	queries []string
}

func (s *stubSearcher) Search(
	_ context.Context,
	query string,
	_ int,
) []SearchResult {
	s.queries = append(s.queries, query)
	return s.results
}

type stubGenerator struct {
	output  string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.output, g.err
}

func newTestPipeline(
	searcher Searcher,
	generator Generator,
) (*ChatPipeline, func(time.Duration)) {
	pipeline := newChatPipeline(
		&ChatConfig{
			MaxWindowTurns:    DefaultMaxWindowTurns,
			WindowTTL:         DefaultWindowTTL,
			RateLimitInterval: DefaultRateLimitInterval,
		},
		searcher,
		generator,
		nil,
	)

	// fixed fake clock so the rate limiter can be stepped deterministically
	now := time.Now()
	pipeline.clock = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }
	return pipeline, advance
}

func dmMessage(content string) InboundMessage {
	return InboundMessage{
		UserID:    "user1",
		ChannelID: "dmchan",
		Content:   content,
		DM:        true,
	}
}

func TestChatPlainMessage(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{}
	generator := &stubGenerator{output: "hello! how can I help?"}
	pipeline, _ := newTestPipeline(searcher, generator)

	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("hi"))

	assert.Equal(t, ChatOutcomeCompleted, outcome)
	require.Len(t, replies, 1)
	assert.Equal(t, "hello! how can I help?", replies[0])

	// no search for a plain message
	assert.Empty(t, searcher.queries)

	require.Len(t, generator.prompts, 1)
	prompt := generator.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, defaultSystemPrompt))
	assert.True(t, strings.HasSuffix(prompt, "User: hi\nAssistant: "))
	assert.NotContains(t, prompt, "Web Search Information:")
}

func TestChatWindowCarriedIntoPrompt(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{output: "nice to meet you, sam!"}
	pipeline, advance := newTestPipeline(&stubSearcher{}, generator)

	outcome, _ := pipeline.HandleMessage(
		context.Background(), dmMessage("my name is sam"),
	)
	require.Equal(t, ChatOutcomeCompleted, outcome)

	advance(3 * time.Second)
	generator.output = "your name is sam"
	outcome, _ = pipeline.HandleMessage(
		context.Background(), dmMessage("what's my name?"),
	)
	require.Equal(t, ChatOutcomeCompleted, outcome)

	require.Len(t, generator.prompts, 2)
	prompt := generator.prompts[1]
	assert.Contains(t, prompt, "User: my name is sam\n")
	assert.Contains(t, prompt, "Assistant: nice to meet you, sam!\n")
	assert.True(t, strings.HasSuffix(prompt, "User: what's my name?\nAssistant: "))
}

func TestChatRateLimited(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{output: "reply"}
	pipeline, advance := newTestPipeline(&stubSearcher{}, generator)

	outcome, _ := pipeline.HandleMessage(context.Background(), dmMessage("one"))
	require.Equal(t, ChatOutcomeCompleted, outcome)

	advance(time.Second)
	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("two"))
	assert.Equal(t, ChatOutcomeRateLimited, outcome)
	require.Len(t, replies, 1)
	assert.Equal(t, rateLimitNotice, replies[0])

	// the rejected message is not remembered
	key := NewConversationKey("user1", "dmchan", true)
	window := pipeline.store.Read(key)
	require.Len(t, window, 2)
	assert.Equal(t, "one", window[0].Content)

	advance(2 * time.Second)
	outcome, _ = pipeline.HandleMessage(context.Background(), dmMessage("three"))
	assert.Equal(t, ChatOutcomeCompleted, outcome)
}

func TestChatReset(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{output: "reply"}
	pipeline, advance := newTestPipeline(&stubSearcher{}, generator)

	outcome, _ := pipeline.HandleMessage(context.Background(), dmMessage("hello"))
	require.Equal(t, ChatOutcomeCompleted, outcome)

	advance(3 * time.Second)
	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("forget"))
	assert.Equal(t, ChatOutcomeReset, outcome)
	require.Len(t, replies, 1)
	assert.Equal(t, resetNotice, replies[0])

	key := NewConversationKey("user1", "dmchan", true)
	assert.Empty(t, pipeline.store.Read(key))

	// the reset turn itself is never generated or stored
	assert.Len(t, generator.prompts, 1)
}

func TestChatExplicitSearch(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{
		results: []SearchResult{
			{
				Title:   "Tokyo Weather",
				URL:     "https://weather.example.com/tokyo",
				Snippet: "Sunny, 22C.",
			},
		},
	}
	generator := &stubGenerator{output: "it's sunny in Tokyo, around 22C"}
	pipeline, _ := newTestPipeline(searcher, generator)

	outcome, _ := pipeline.HandleMessage(
		context.Background(),
		dmMessage("search: weather in Tokyo"),
	)
	require.Equal(t, ChatOutcomeCompleted, outcome)

	require.Len(t, searcher.queries, 1)
	assert.Equal(t, "weather in Tokyo", searcher.queries[0])

	require.Len(t, generator.prompts, 1)
	prompt := generator.prompts[0]
	assert.Contains(t, prompt, "Web Search Information:")
	assert.Contains(t, prompt, "Tokyo Weather")
	assert.Contains(t, prompt, "Sunny, 22C.")
	// the synthesized turn notes the search, since the residual content
	// was empty
	assert.Contains(t, prompt, "tell me about weather in Tokyo")
	assert.Contains(
		t,
		prompt,
		fmt.Sprintf("(Note: I searched the web for %q to help answer this.)",
			"weather in Tokyo"),
	)

	// the stored user turn is the plain content, without the note
	key := NewConversationKey("user1", "dmchan", true)
	window := pipeline.store.Read(key)
	require.Len(t, window, 2)
	assert.Equal(t, "tell me about weather in Tokyo", window[0].Content)
	assert.NotContains(t, window[0].Content, "(Note:")
}

func TestChatImplicitSearch(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{}
	generator := &stubGenerator{output: "here's the news"}
	pipeline, _ := newTestPipeline(searcher, generator)

	outcome, _ := pipeline.HandleMessage(
		context.Background(),
		dmMessage("what's the latest news"),
	)
	require.Equal(t, ChatOutcomeCompleted, outcome)

	// whole message doubles as the query
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, "what's the latest news", searcher.queries[0])

	// zero results still produce a search block, so the model knows the
	// search happened and came up empty
	prompt := generator.prompts[0]
	assert.Contains(t, prompt, "Web Search Information:")
	assert.Contains(t, prompt, "No search results found.")
}

func TestChatGenerationTimeoutNotStored(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{
		err: fmt.Errorf("%w after 30s", ErrGenerationTimeout),
	}
	pipeline, _ := newTestPipeline(&stubSearcher{}, generator)

	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("hi"))
	assert.Equal(t, ChatOutcomeTimedOut, outcome)
	require.Len(t, replies, 1)
	assert.Equal(t, generationTimeoutNotice, replies[0])

	key := NewConversationKey("user1", "dmchan", true)
	assert.Empty(t, pipeline.store.Read(key))
}

func TestChatGenerationFailureNotStored(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{err: errors.New("backend exploded")}
	pipeline, _ := newTestPipeline(&stubSearcher{}, generator)

	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("hi"))
	assert.Equal(t, ChatOutcomeFailed, outcome)
	require.Len(t, replies, 1)
	assert.Equal(t, genericErrorNotice, replies[0])

	key := NewConversationKey("user1", "dmchan", true)
	assert.Empty(t, pipeline.store.Read(key))
}

func TestChatLongReplyChunked(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 1000)
	generator := &stubGenerator{output: strings.TrimSpace(long)}
	pipeline, _ := newTestPipeline(&stubSearcher{}, generator)

	outcome, replies := pipeline.HandleMessage(context.Background(), dmMessage("hi"))
	require.Equal(t, ChatOutcomeCompleted, outcome)
	require.Greater(t, len(replies), 1)

	for _, reply := range replies {
		assert.LessOrEqual(
			t,
			len([]rune(reply)),
			discordMaxMessageLength-discordMessageChunkMargin,
		)
	}
	assert.Equal(t, strings.TrimSpace(long), strings.Join(replies, ""))
}

func TestChatGuildAndDMAreSeparateConversations(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{output: "reply"}
	pipeline, advance := newTestPipeline(&stubSearcher{}, generator)

	outcome, _ := pipeline.HandleMessage(
		context.Background(),
		InboundMessage{
			UserID:    "user1",
			ChannelID: "general",
			Content:   "in the guild",
		},
	)
	require.Equal(t, ChatOutcomeCompleted, outcome)

	advance(3 * time.Second)
	outcome, _ = pipeline.HandleMessage(context.Background(), dmMessage("in a dm"))
	require.Equal(t, ChatOutcomeCompleted, outcome)

	// the DM prompt must not contain the guild exchange
	require.Len(t, generator.prompts, 2)
	assert.NotContains(t, generator.prompts[1], "in the guild")
}

func TestChatClear(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{output: "reply"}
	pipeline, _ := newTestPipeline(&stubSearcher{}, generator)

	assert.False(t, pipeline.Clear("user1", "dmchan", true))

	outcome, _ := pipeline.HandleMessage(context.Background(), dmMessage("hi"))
	require.Equal(t, ChatOutcomeCompleted, outcome)

	assert.True(t, pipeline.Clear("user1", "dmchan", true))
	assert.False(t, pipeline.Clear("user1", "dmchan", true))
}
