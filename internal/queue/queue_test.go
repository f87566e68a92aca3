package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB)`)
	require.NoError(t, err)
	return storage.NewSQLiteStore(db)
}

func newQueue(t *testing.T, store storage.Store) *MutationQueue {
	t.Helper()
	q, err := New(context.Background(), store, logging.NewDefault())
	require.NoError(t, err)
	return q
}

func reportMutation(title string) *models.Mutation {
	payload, _ := json.Marshal(models.ReportPayload{
		ProjectID: "p1", Title: title, Content: "c",
		Category: "structure", Location: "site", Status: "in_progress",
	})
	return models.NewMutation(models.KindReport, models.NewTempID(), models.OpUpdate, payload, nil)
}

func TestEnqueue_IdempotentOnKey(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	m := reportMutation("one")
	require.NoError(t, q.Enqueue(ctx, m))
	require.NoError(t, q.Enqueue(ctx, m))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueue_RejectsInvalidMutation(t *testing.T) {
	q := newQueue(t, setupStore(t))
	bad := models.NewMutation(models.ResourceKind("nope"), "x", models.OpUpdate, json.RawMessage(`{}`), nil)
	require.Error(t, q.Enqueue(context.Background(), bad))
}

func TestDrain_FIFOWithPartialFailure(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	a, b, c := reportMutation("a"), reportMutation("b"), reportMutation("c")
	for _, m := range []*models.Mutation{a, b, c} {
		require.NoError(t, q.Enqueue(ctx, m))
	}

	var sent []string
	res, err := q.Drain(ctx, func(ctx context.Context, m *models.Mutation) error {
		sent = append(sent, m.ID)
		if m.ID == b.ID {
			return common.ErrTransient
		}
		return nil
	})
	require.NoError(t, err)

	// every mutation was attempted exactly once, in insertion order
	if diff := cmp.Diff([]string{a.ID, b.ID, c.ID}, sent); diff != "" {
		t.Fatalf("send order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{a.ID, c.ID}, res.Succeeded)
	assert.Equal(t, []string{b.ID}, res.Failed)

	// only B remains, with its attempt counted and the same key
	remaining, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].Attempts)
	assert.NotEmpty(t, remaining[0].LastError)
}

func TestDrain_RejectedMutationIsDropped(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	m := reportMutation("bad")
	require.NoError(t, q.Enqueue(ctx, m))

	res, err := q.Drain(ctx, func(ctx context.Context, m *models.Mutation) error {
		return fmt.Errorf("%w: category unknown", common.ErrRejected)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, res.Failed)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrain_UnauthorizedAbortsPass(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	a, b := reportMutation("a"), reportMutation("b")
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	var sent int
	_, err := q.Drain(ctx, func(ctx context.Context, m *models.Mutation) error {
		sent++
		return common.ErrUnauthorized
	})
	require.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Equal(t, 1, sent)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDrain_RetryKeepsIdempotencyKey(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	m := reportMutation("a")
	require.NoError(t, q.Enqueue(ctx, m))

	_, err := q.Drain(ctx, func(ctx context.Context, m *models.Mutation) error {
		return common.ErrOffline
	})
	require.NoError(t, err)

	var gotID string
	res, err := q.Drain(ctx, func(ctx context.Context, mm *models.Mutation) error {
		gotID = mm.ID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, m.ID, gotID)
	assert.Equal(t, []string{m.ID}, res.Succeeded)
}

func TestQueue_SurvivesReload(t *testing.T) {
	store := setupStore(t)
	q := newQueue(t, store)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, reportMutation("a")))

	// a fresh queue over the same store sees the pending work and does
	// not reuse the occupied slot
	q2 := newQueue(t, store)
	require.NoError(t, q2.Enqueue(ctx, reportMutation("b")))

	items, err := q2.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", titleOf(t, items[0]))
	assert.Equal(t, "b", titleOf(t, items[1]))
}

func titleOf(t *testing.T, m *models.Mutation) string {
	t.Helper()
	var p models.ReportPayload
	require.NoError(t, json.Unmarshal(m.Payload, &p))
	return p.Title
}
