package fluxbot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	t.Parallel()

	guildKey := NewConversationKey("user1", "chan1", false)
	assert.Equal(t, SurfaceGuild, guildKey.Surface)
	assert.Equal(t, "chan1:user1", guildKey.String())

	// DM keys ignore the channel, so a rotated DM channel ID still maps
	// to the same conversation
	dmKey := NewConversationKey("user1", "chan1", true)
	dmKeyOther := NewConversationKey("user1", "chan2", true)
	assert.Equal(t, dmKey, dmKeyOther)
	assert.Equal(t, "dm:user1", dmKey.String())

	assert.NotEqual(t, guildKey, dmKey)
}

func TestConversationStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	key := NewConversationKey("user1", "chan1", false)

	store.AppendExchange(key, "hello", "hi there!")

	window := store.Read(key)
	require.Len(t, window, 2)
	assert.Equal(t, RoleUser, window[0].Role)
	assert.Equal(t, "hello", window[0].Content)
	assert.Equal(t, RoleAssistant, window[1].Role)
	assert.Equal(t, "hi there!", window[1].Content)
}

func TestConversationStoreBounds(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	key := NewConversationKey("user1", "", true)

	for i := 0; i < 8; i++ {
		store.AppendExchange(
			key,
			fmt.Sprintf("question %d", i),
			fmt.Sprintf("answer %d", i),
		)
	}

	window := store.Read(key)
	require.Len(t, window, 10)

	// oldest turns were evicted first
	assert.Equal(t, "question 3", window[0].Content)
	assert.Equal(t, "answer 7", window[9].Content)
}

func TestConversationStoreTTL(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	key := NewConversationKey("user1", "chan1", false)

	now := time.Now()
	store.clock = func() time.Time { return now }

	store.AppendExchange(key, "old question", "old answer")

	now = now.Add(10 * time.Minute)
	store.AppendExchange(key, "new question", "new answer")

	// 31 minutes after the first exchange: only the second survives
	now = now.Add(21 * time.Minute)
	window := store.Read(key)
	require.Len(t, window, 2)
	assert.Equal(t, "new question", window[0].Content)

	// 31 minutes after the second exchange: nothing survives
	now = now.Add(21 * time.Minute)
	assert.Empty(t, store.Read(key))
}

func TestConversationStoreReadUnknownKey(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	key := NewConversationKey("nobody", "nowhere", false)

	assert.Nil(t, store.Read(key))

	// reading must not create an entry
	store.mu.Lock()
	_, exists := store.windows[key]
	store.mu.Unlock()
	assert.False(t, exists)
}

func TestConversationStoreClear(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	key := NewConversationKey("user1", "chan1", false)

	assert.False(t, store.Clear(key))

	store.Append(key, RoleUser, "hello")
	assert.True(t, store.Clear(key))
	assert.Nil(t, store.Read(key))
	assert.False(t, store.Clear(key))
}

func TestConversationStoreSurfaceIsolation(t *testing.T) {
	t.Parallel()

	store := NewConversationStore(10, 30*time.Minute, nil)
	guildKey := NewConversationKey("user1", "chan1", false)
	dmKey := NewConversationKey("user1", "", true)

	store.Append(guildKey, RoleUser, "in the guild")
	store.Append(dmKey, RoleUser, "in a dm")

	require.Len(t, store.Read(guildKey), 1)
	require.Len(t, store.Read(dmKey), 1)
	assert.Equal(t, "in the guild", store.Read(guildKey)[0].Content)
	assert.Equal(t, "in a dm", store.Read(dmKey)[0].Content)

	store.Clear(dmKey)
	assert.Len(t, store.Read(guildKey), 1)
}
