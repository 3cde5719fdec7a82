package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-bot/internal/model"
)

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := &Session{OwnerID: 3, State: StateAwaitingConfirmation, PendingButtons: []model.Button{{Label: "A", URL: "https://a"}}}
	require.NoError(t, store.Save(ctx, sess))
	sess.PendingButtons[0].Label = "mutated"

	loaded, err := store.Load(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "A", loaded.PendingButtons[0].Label)

	loaded.PendingButtons = append(loaded.PendingButtons, model.Button{Label: "B"})
	again, err := store.Load(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, again.PendingButtons, 1)
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	sess, err := NewMemoryStore().Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestMemoryStore_DeleteIdle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, &Session{OwnerID: 1, UpdatedAt: base}))
	require.NoError(t, store.Save(ctx, &Session{OwnerID: 2, UpdatedAt: base.Add(time.Hour)}))

	removed, err := store.DeleteIdle(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "thumbnailbot:session:42", sessionKey(42))
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Minute)

	_, err := store.Load(context.Background(), 1)
	assert.Error(t, err)
	assert.Error(t, store.Save(context.Background(), &Session{OwnerID: 1}))
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
