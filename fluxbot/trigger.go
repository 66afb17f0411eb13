package fluxbot

import "strings"

const (
	// TriggerReset - the whole message is a reset phrase; the conversation
	// window should be cleared.
	TriggerReset TriggerKind = "reset"

	// TriggerExplicitSearch - the message contains an explicit search
	// trigger token; Query holds the extracted search query and Content
	// the residual message text (possibly empty).
	TriggerExplicitSearch TriggerKind = "explicit_search"

	// TriggerImplicitSearch - a search keyword appeared in the message;
	// the whole message serves as both chat content and search query.
	TriggerImplicitSearch TriggerKind = "implicit_search"

	// TriggerPlain - an ordinary chat turn.
	TriggerPlain TriggerKind = "plain"
)

// TriggerKind tags the classification of an inbound message.
type TriggerKind string

func (k TriggerKind) String() string {
	return string(k)
}

// Trigger is the result of classifying one inbound message.
type Trigger struct {
	Kind    TriggerKind
	Content string
	Query   string
}

// resetPhrases clear the conversation window when they make up the entire
// (trimmed) message.
var resetPhrases = []string{"clear", "reset", "forget"}

// searchTriggers are scanned in order; the first one found anywhere in the
// message wins, and no further triggers are checked.
var searchTriggers = []string{"search:", "google:", "find:", "lookup:", "web:"}

// searchKeywords mark a message as implicitly wanting fresh information.
var searchKeywords = []string{
	"latest", "current", "today", "news", "price of", "weather", "score",
}

// ClassifyMessage decides what an inbound message wants. It is pure: no
// I/O, just intent classification and substring extraction.
//
// Priority order: reset phrase (exact whole-message match), explicit search
// trigger (first token found splits the message into residual content and
// query), implicit search keyword (whole message doubles as query), then
// plain chat.
func ClassifyMessage(text string) Trigger {
	trimmed := strings.TrimSpace(text)
	lowered := strings.ToLower(trimmed)

	for _, phrase := range resetPhrases {
		if lowered == phrase {
			return Trigger{Kind: TriggerReset}
		}
	}

	for _, token := range searchTriggers {
		idx := strings.Index(lowered, token)
		if idx < 0 {
			continue
		}
		// split the original text at the first occurrence of the token
		residual := strings.TrimSpace(trimmed[:idx])
		query := strings.TrimSpace(trimmed[idx+len(token):])
		if query != "" {
			return Trigger{
				Kind:    TriggerExplicitSearch,
				Content: residual,
				Query:   query,
			}
		}
		// first matching trigger wins even when its query is empty
		break
	}

	for _, keyword := range searchKeywords {
		if strings.Contains(lowered, keyword) {
			return Trigger{
				Kind:    TriggerImplicitSearch,
				Content: trimmed,
				Query:   trimmed,
			}
		}
	}

	return Trigger{Kind: TriggerPlain, Content: trimmed}
}
