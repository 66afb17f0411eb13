package fluxbot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// SurfaceGuild identifies a conversation happening in a guild channel.
	SurfaceGuild Surface = "guild"

	// SurfaceDM identifies a direct-message conversation.
	SurfaceDM Surface = "dm"
)

// Surface is the channel context of a conversation. The same user talking
// in a guild channel and over DM holds two distinct conversations.
type Surface string

// ConversationKey identifies one conversation thread: a user on a surface,
// plus the channel for guild conversations.
type ConversationKey struct {
	Surface   Surface
	ChannelID string
	UserID    string
}

// NewConversationKey builds the key for a message. DMs ignore the channel
// ID so a user's DM history survives Discord rotating DM channel IDs.
func NewConversationKey(userID string, channelID string, dm bool) ConversationKey {
	if dm {
		return ConversationKey{Surface: SurfaceDM, UserID: userID}
	}
	return ConversationKey{
		Surface:   SurfaceGuild,
		ChannelID: channelID,
		UserID:    userID,
	}
}

func (k ConversationKey) String() string {
	if k.Surface == SurfaceDM {
		return fmt.Sprintf("dm:%s", k.UserID)
	}
	return fmt.Sprintf("%s:%s", k.ChannelID, k.UserID)
}

func (k ConversationKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("surface", string(k.Surface)),
		slog.String("channel_id", k.ChannelID),
		slog.String("user_id", k.UserID),
	)
}

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Role tags a Turn as user input or assistant output.
type Role string

// Turn is one role-tagged message in a conversation. Immutable once stored.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ConversationStore holds bounded, time-decaying conversation windows keyed
// by ConversationKey. Windows are capped at maxTurns entries; turns older
// than ttl are evicted lazily on the next read. The store owns its windows
// exclusively - callers only ever see copies.
type ConversationStore struct {
	mu       sync.Mutex
	windows  map[ConversationKey][]Turn
	maxTurns int
	ttl      time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// NewConversationStore creates a store with the given count bound and TTL.
func NewConversationStore(
	maxTurns int,
	ttl time.Duration,
	logger *slog.Logger,
) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		windows:  map[ConversationKey][]Turn{},
		maxTurns: maxTurns,
		ttl:      ttl,
		clock:    time.Now,
		logger:   logger,
	}
}

// Append pushes a Turn onto the window for key, dropping the oldest entry
// if the count bound would be exceeded.
func (s *ConversationStore) Append(key ConversationKey, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(key, role, content)
}

// AppendExchange stores a user turn and the assistant's reply as one
// atomic pair, so concurrent readers never observe a half-recorded
// exchange.
func (s *ConversationStore) AppendExchange(
	key ConversationKey,
	userContent string,
	assistantContent string,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(key, RoleUser, userContent)
	s.append(key, RoleAssistant, assistantContent)
}

func (s *ConversationStore) append(key ConversationKey, role Role, content string) {
	window := append(
		s.windows[key],
		Turn{Role: role, Content: content, CreatedAt: s.clock()},
	)
	if len(window) > s.maxTurns {
		window = window[len(window)-s.maxTurns:]
	}
	s.windows[key] = window
}

// Read returns the window for key in chronological order, first discarding
// turns older than the TTL. The pruned window is persisted, so stale
// entries aren't re-scanned on the next read. Reading an unknown key
// returns nil without creating an entry.
func (s *ConversationStore) Read(key ConversationKey) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, ok := s.windows[key]
	if !ok {
		return nil
	}

	cutoff := s.clock().Add(-s.ttl)
	recent := window[:0:0]
	for _, turn := range window {
		if turn.CreatedAt.After(cutoff) {
			recent = append(recent, turn)
		}
	}

	if len(recent) != len(window) {
		s.logger.Debug(
			"pruned stale conversation turns",
			"key", key,
			"dropped", len(window)-len(recent),
		)
	}
	s.windows[key] = recent

	out := make([]Turn, len(recent))
	copy(out, recent)
	return out
}

// Clear removes the window for key entirely, reporting whether one existed.
func (s *ConversationStore) Clear(key ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.windows[key]
	if ok {
		delete(s.windows, key)
	}
	return ok
}
