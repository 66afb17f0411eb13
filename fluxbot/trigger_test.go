package fluxbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected Trigger
	}{
		{
			name:     "reset phrase",
			input:    "reset",
			expected: Trigger{Kind: TriggerReset},
		},
		{
			name:     "reset phrase with surrounding whitespace",
			input:    "  Clear  ",
			expected: Trigger{Kind: TriggerReset},
		},
		{
			name:  "reset phrase inside a sentence is not a reset",
			input: "please clear this up for me",
			expected: Trigger{
				Kind:    TriggerPlain,
				Content: "please clear this up for me",
			},
		},
		{
			name:  "explicit search trigger",
			input: "search: weather in Tokyo",
			expected: Trigger{
				Kind:    TriggerExplicitSearch,
				Content: "",
				Query:   "weather in Tokyo",
			},
		},
		{
			name:  "explicit trigger mid-message keeps residual content",
			input: "hey can you google: golang generics tutorial",
			expected: Trigger{
				Kind:    TriggerExplicitSearch,
				Content: "hey can you",
				Query:   "golang generics tutorial",
			},
		},
		{
			name:  "explicit trigger is case-insensitive",
			input: "SEARCH: something",
			expected: Trigger{
				Kind:    TriggerExplicitSearch,
				Content: "",
				Query:   "something",
			},
		},
		{
			name:  "implicit search keyword",
			input: "what's the latest news",
			expected: Trigger{
				Kind:    TriggerImplicitSearch,
				Content: "what's the latest news",
				Query:   "what's the latest news",
			},
		},
		{
			name:  "implicit keyword phrase",
			input: "price of bitcoin please",
			expected: Trigger{
				Kind:    TriggerImplicitSearch,
				Content: "price of bitcoin please",
				Query:   "price of bitcoin please",
			},
		},
		{
			name:  "plain chat",
			input: "hello there",
			expected: Trigger{
				Kind:    TriggerPlain,
				Content: "hello there",
			},
		},
		{
			name:  "explicit trigger with empty query falls through",
			input: "search:",
			expected: Trigger{
				Kind:    TriggerPlain,
				Content: "search:",
			},
		},
		{
			name:  "explicit trigger beats implicit keyword",
			input: "search: latest golang release",
			expected: Trigger{
				Kind:    TriggerExplicitSearch,
				Content: "",
				Query:   "latest golang release",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				assert.Equal(t, tc.expected, ClassifyMessage(tc.input))
			},
		)
	}
}
