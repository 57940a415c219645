package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

// setupTestStore opens a fresh SQLite file with a deterministic clock.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return store
}

func cred(userID string) chat.Credential {
	return chat.Credential{Token: "token-" + userID, UserID: userID}
}

func TestStoreInsertReturnsEnrichedMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, "u1", "ada"))

	msg, err := store.Insert(ctx, cred("u1"), chat.NewMessage{Content: "hi", UserID: "u1", RoomID: "general"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "general", msg.RoomID)
	assert.Equal(t, chat.Author{ID: "u1", Username: "ada"}, msg.User)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestStoreInsertAcceptsEmptyContent(t *testing.T) {
	store := setupTestStore(t)

	msg, err := store.Insert(context.Background(), cred("u1"), chat.NewMessage{Content: "", UserID: "u1", RoomID: "general"})
	require.NoError(t, err)
	assert.Equal(t, "", msg.Content)
}

func TestStoreInsertRejectsForeignCredential(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Insert(context.Background(), cred("u2"), chat.NewMessage{Content: "hi", UserID: "u1", RoomID: "general"})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrStoreWrite)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStoreRecentOrdersAndLimits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := store.Insert(ctx, cred("u1"), chat.NewMessage{Content: fmt.Sprintf("m%02d", i), UserID: "u1", RoomID: "general"})
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, cred("u1"), chat.NewMessage{Content: "elsewhere", UserID: "u1", RoomID: "random"})
	require.NoError(t, err)

	messages, err := store.Recent(ctx, cred("u1"), "general", 50)
	require.NoError(t, err)
	require.Len(t, messages, 50)

	assert.Equal(t, "m10", messages[0].Content)
	assert.Equal(t, "m59", messages[49].Content)
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt), "history must be ascending")
		assert.Equal(t, "general", messages[i].RoomID)
	}
}

func TestStoreRecentResolvesUsernames(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, "u1", "ada"))

	_, err := store.Insert(ctx, cred("u1"), chat.NewMessage{Content: "a", UserID: "u1", RoomID: "general"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, cred("u2"), chat.NewMessage{Content: "b", UserID: "u2", RoomID: "general"})
	require.NoError(t, err)

	messages, err := store.Recent(ctx, cred("u1"), "general", 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "ada", messages[0].User.Username)
	assert.Equal(t, chat.DefaultUsername, messages[1].User.Username)
}

func TestStoreRecentEmptyRoom(t *testing.T) {
	store := setupTestStore(t)

	messages, err := store.Recent(context.Background(), cred("u1"), "nobody-here", 50)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.NotNil(t, messages)
}

func TestStoreUpsertProfileRenames(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	name, err := store.Username(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "", name)

	require.NoError(t, store.UpsertProfile(ctx, "u1", "ada"))
	require.NoError(t, store.UpsertProfile(ctx, "u1", "countess"))

	name, err = store.Username(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "countess", name)
}
