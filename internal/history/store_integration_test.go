//go:build integration
// +build integration

package history_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovoice/agrovoice/internal/docstore"
	"github.com/agrovoice/agrovoice/internal/history"
	"github.com/agrovoice/agrovoice/internal/log"
	"github.com/agrovoice/agrovoice/internal/testutil"
)

func newIntegrationStore(t *testing.T, cfg history.Config) (*history.Store, func()) {
	t.Helper()

	dbContainer, cleanup := testutil.SetupTestDB(t)

	docs, err := docstore.NewPostgres(dbContainer.Pool, log.NewNop())
	require.NoError(t, err)

	store, err := history.New(docs, cfg, log.NewNop())
	require.NoError(t, err)

	return store, cleanup
}

// TestHistory_FullFlow_Integration drives the whole stack over PostgreSQL:
// appends across chunk rollovers, then all three read paths.
func TestHistory_FullFlow_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t, history.Config{MaxMessagesPerChunk: 10})
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		role := history.RoleUser
		if i%2 == 0 {
			role = history.RoleAssistant
		}
		_, err := store.AddMessage(ctx, "sess-1", role,
			fmt.Sprintf("message %d", i), "farmer-1", nil)
		require.NoError(t, err, "AddMessage(%d)", i)
	}

	sess, err := store.Session(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 25, sess.MessageCount)
	assert.Equal(t, []string{"sess-1_chunk_1", "sess-1_chunk_2", "sess-1_chunk_3"}, sess.Chunks)
	assert.Equal(t, "sess-1_chunk_3", sess.CurrentChunk)

	msgs, err := store.Conversation(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 25)
	assert.Equal(t, "message 1", msgs[0].Content)
	assert.Equal(t, "message 25", msgs[24].Content)

	tail, err := store.LastN(ctx, "sess-1", 6)
	require.NoError(t, err)
	require.Len(t, tail, 6)
	assert.Equal(t, "message 20", tail[0].Content)
	assert.Equal(t, "message 25", tail[5].Content)

	page, err := store.Page(ctx, "sess-1", 10, 10)
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, "message 6", page[0].Content)
	assert.Equal(t, "message 15", page[9].Content)
}

// TestHistory_CreateSessionIdempotent_Integration verifies session creation
// against real unique-constraint behavior.
func TestHistory_CreateSessionIdempotent_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t, history.Config{})
	defer cleanup()
	ctx := context.Background()

	first, err := store.CreateSession(ctx, "sess-1", "farmer-1")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, "sess-1", history.RoleUser, "hello", "farmer-1", nil)
	require.NoError(t, err)

	again, err := store.CreateSession(ctx, "sess-1", "farmer-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "farmer-1", again.UserID, "existing session must keep its owner")
	assert.Equal(t, 1, again.MessageCount, "existing session must not be reset")
}

// TestHistory_Recount_Integration repairs a counter damaged out of band.
func TestHistory_Recount_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t, history.Config{MaxMessagesPerChunk: 4})
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		_, err := store.AddMessage(ctx, "sess-1", history.RoleUser,
			fmt.Sprintf("message %d", i), "farmer-1", nil)
		require.NoError(t, err)
	}

	sess, err := store.Recount(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 9, sess.MessageCount)
}
