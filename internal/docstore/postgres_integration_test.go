//go:build integration
// +build integration

package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovoice/agrovoice/internal/docstore"
	"github.com/agrovoice/agrovoice/internal/log"
	"github.com/agrovoice/agrovoice/internal/testutil"
)

// TestPostgres_CreateReadReplace_Integration exercises the basic document
// lifecycle against a real PostgreSQL instance.
func TestPostgres_CreateReadReplace_Integration(t *testing.T) {
	dbContainer, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := docstore.NewPostgres(dbContainer.Pool, log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1", "doc-1", []byte(`{"v":1}`))
	require.NoError(t, err, "Create should not return error")
	assert.Equal(t, "doc-1", created.ID)
	assert.Equal(t, "sess-1", created.Partition)
	assert.NotEmpty(t, created.ETag, "Create should mint an ETag")

	got, err := store.Read(ctx, "sess-1", "doc-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Body))
	assert.Equal(t, created.ETag, got.ETag)

	// Duplicate creates collide.
	_, err = store.Create(ctx, "sess-1", "doc-1", []byte(`{"v":9}`))
	assert.ErrorIs(t, err, docstore.ErrExists)

	// Same id in a different partition is independent.
	_, err = store.Create(ctx, "sess-2", "doc-1", []byte(`{"v":2}`))
	require.NoError(t, err)

	replaced, err := store.Replace(ctx, "sess-1", "doc-1", []byte(`{"v":2}`), "")
	require.NoError(t, err)
	assert.NotEqual(t, created.ETag, replaced.ETag, "Replace should rotate the ETag")
}

// TestPostgres_ConditionalReplace_Integration verifies the optimistic
// concurrency contract: stale ETags lose, fresh ones win.
func TestPostgres_ConditionalReplace_Integration(t *testing.T) {
	dbContainer, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := docstore.NewPostgres(dbContainer.Pool, log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1", "doc-1", []byte(`{"v":1}`))
	require.NoError(t, err)

	// Matching ETag succeeds.
	second, err := store.Replace(ctx, "sess-1", "doc-1", []byte(`{"v":2}`), created.ETag)
	require.NoError(t, err)

	// The first ETag is now stale.
	_, err = store.Replace(ctx, "sess-1", "doc-1", []byte(`{"v":3}`), created.ETag)
	assert.ErrorIs(t, err, docstore.ErrPrecondition)

	// Missing documents are reported as such, not as conflicts.
	_, err = store.Replace(ctx, "sess-1", "no-such-doc", []byte(`{}`), second.ETag)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	got, err := store.Read(ctx, "sess-1", "doc-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Body), "losing write must not be applied")
}

// TestPostgres_UpsertDelete_Integration covers the unconditional paths.
func TestPostgres_UpsertDelete_Integration(t *testing.T) {
	dbContainer, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := docstore.NewPostgres(dbContainer.Pool, log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Upsert(ctx, "sess-1", "doc-1", []byte(`{"v":1}`))
	require.NoError(t, err, "Upsert should create when absent")

	second, err := store.Upsert(ctx, "sess-1", "doc-1", []byte(`{"v":2}`))
	require.NoError(t, err, "Upsert should overwrite when present")
	assert.NotEqual(t, first.ETag, second.ETag)

	require.NoError(t, store.Delete(ctx, "sess-1", "doc-1"))
	_, err = store.Read(ctx, "sess-1", "doc-1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "sess-1", "doc-1"), docstore.ErrNotFound)
}

// TestPostgres_ConcurrentConditionalWrites_Integration races writers on one
// document: exactly one conditional replace per generation may win.
func TestPostgres_ConcurrentConditionalWrites_Integration(t *testing.T) {
	dbContainer, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := docstore.NewPostgres(dbContainer.Pool, log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1", "doc-1", []byte(`{"v":0}`))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	wins := make(chan int, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			body := []byte(fmt.Sprintf(`{"writer":%d}`, w))
			_, err := store.Replace(ctx, "sess-1", "doc-1", body, created.ETag)
			if err == nil {
				wins <- w
				return
			}
			assert.True(t, errors.Is(err, docstore.ErrPrecondition),
				"unexpected error: %v", err)
		}(w)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one writer should win the ETag race")

	got, err := store.Read(ctx, "sess-1", "doc-1")
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"writer":%d}`, winners[0]), string(got.Body))
}
