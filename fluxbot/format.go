package fluxbot

import (
	"fmt"
	"strings"
)

// FormatResultsDisplay renders results as a numbered list for posting
// directly to a channel. Titles and snippets are truncated, and the whole
// output is capped at the transport message limit by simple truncation.
func FormatResultsDisplay(results []SearchResult, query string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: **%s**", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Search results for: %s**\n\n", query)

	for i, result := range results {
		snippet := result.Snippet
		if snippet == "" {
			snippet = "No description"
		}
		fmt.Fprintf(&b, "**%d. %s**\n", i+1, truncate(result.Title, searchDisplayTitleLimit))
		fmt.Fprintf(&b, "%s...\n", truncate(snippet, searchDisplaySnippetLimit))
		fmt.Fprintf(&b, "🔗 <%s>\n\n", result.URL)
	}

	return truncate(b.String(), discordMaxMessageLength)
}

// FormatResultsForPrompt renders results as plain text for embedding in a
// generation prompt: no markup, no hard truncation.
func FormatResultsForPrompt(results []SearchResult, query string) string {
	if len(results) == 0 {
		return "No search results found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for '%s':\n\n", query)

	for i, result := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, result.Title)
		fmt.Fprintf(&b, "   URL: %s\n", result.URL)
		if result.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", result.Snippet)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatRolesList renders a member's current self-assignable roles along
// with everything available to them.
func formatRolesList(current []string, assignable []string) string {
	var b strings.Builder
	if len(current) == 0 {
		b.WriteString("You don't have any self-assignable roles yet!\n\n")
	} else {
		b.WriteString("**Your roles:**\n")
		for _, name := range current {
			fmt.Fprintf(&b, "• %s\n", name)
		}
		b.WriteString("\n")
	}
	b.WriteString("**Available roles:** ")
	b.WriteString(strings.Join(assignable, ", "))
	return b.String()
}
