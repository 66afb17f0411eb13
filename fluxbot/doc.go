// Package fluxbot implements a Discord community bot backed by a local
// Ollama server.
//
// The bot answers direct messages and @-mentions conversationally, keeping
// a short per-user memory window, and augments prompts with live web search
// results when a message asks for them (either explicitly, with a prefix
// like "search:", or implicitly, with recency keywords like "latest" or
// "today"). Search uses a self-hosted SearXNG instance when configured and
// falls back to scraping DuckDuckGo's HTML endpoint.
//
// Key components:
//
//   - FluxBot: the main struct tying gateway events to the pipeline.
//   - ChatPipeline: handles one message end to end, from rate limiting
//     through generation to chunked replies.
//   - ConversationStore: the bounded, expiring per-conversation memory.
//   - SearchProvider: the two-tier web search chain.
//   - OllamaClient: the text generation backend client.
//   - ImageClient: the optional image generation backend client.
//   - Provisioner: creates a guild's roles, categories and channels from
//     a YAML structure file.
//
// Slash commands: /imagine (when the image backend is enabled), /setup
// (admin-only guild provisioning) and /roles (self-assignable roles).
package fluxbot
