package uploads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/backoff"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/storage"

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

// fakeClient scripts Upload outcomes per call and records what was sent.
type fakeClient struct {
	mu    sync.Mutex
	errs  []error
	calls []uploadCall
}

type uploadCall struct {
	path     string
	fields   map[string]string
	fileName string
	size     int
}

func (f *fakeClient) Upload(_ context.Context, path string, fields map[string]string, fileName string, blob []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uploadCall{path: path, fields: fields, fileName: fileName, size: len(blob)})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	resp, _ := json.Marshal(models.StageResponse{Success: true, TempID: fields["temp_id"]})
	return resp, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) Send(context.Context, string, string, any) ([]byte, error) {
	return nil, errors.New("not used")
}
func (f *fakeClient) Ping(context.Context) error { return nil }
func (f *fakeClient) SetTokens(string, string)   {}
func (f *fakeClient) Close() error               { return nil }

func newCoordinator(t *testing.T, store storage.Store, client *fakeClient) *Coordinator {
	t.Helper()
	c := New(store, client, logging.NewDefault(), backoff.Policy{Delays: []time.Duration{time.Millisecond}})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestStage_UploadsAndCleansBlob(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	client := &fakeClient{}
	c := newCoordinator(t, store, client)

	ref, err := c.Stage(ctx, "photo.jpg", []byte("jpegdata"), models.AttachmentRef{Caption: "north wall"})
	require.NoError(t, err)
	require.NotEmpty(t, ref.TempHandle)

	c.Wait()

	assert.Equal(t, models.StageDone, c.State(ref.TempHandle))
	require.Equal(t, 1, client.callCount())
	call := client.calls[0]
	assert.Equal(t, stagePath, call.path)
	assert.Equal(t, ref.TempHandle, call.fields["temp_id"])
	assert.Equal(t, "photo.jpg", call.fileName)
	assert.Equal(t, len("jpegdata"), call.size)

	_, err = store.Get(ctx, ref.LocalBlobKey)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStage_RetriesTransientThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	client := &fakeClient{errs: []error{common.ErrTransient, nil}}
	c := newCoordinator(t, store, client)

	ref, err := c.Stage(ctx, "a.jpg", []byte("x"), models.AttachmentRef{})
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, models.StageDone, c.State(ref.TempHandle))
	assert.Equal(t, 2, client.callCount())
}

func TestStage_ExhaustedRetriesKeepsBlob(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	client := &fakeClient{errs: []error{common.ErrOffline, common.ErrOffline, common.ErrOffline}}
	c := newCoordinator(t, store, client)

	ref, err := c.Stage(ctx, "a.jpg", []byte("x"), models.AttachmentRef{})
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, models.StageFailed, c.State(ref.TempHandle))
	assert.Contains(t, c.Failed(), ref.TempHandle)

	// the blob stayed durable so the next restage can retry it
	_, err = store.Get(ctx, ref.LocalBlobKey)
	assert.NoError(t, err)
}

func TestStage_RejectedIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	client := &fakeClient{errs: []error{common.ErrRejected}}
	c := newCoordinator(t, store, client)

	ref, err := c.Stage(ctx, "a.jpg", []byte("x"), models.AttachmentRef{})
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, models.StageFailed, c.State(ref.TempHandle))
	assert.Equal(t, 1, client.callCount())
}

func TestRestage_ResumesPendingBlobs(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	// first run: upload never succeeds, blob persists
	failing := &fakeClient{errs: []error{common.ErrOffline, common.ErrOffline, common.ErrOffline}}
	c1 := newCoordinator(t, store, failing)
	ref, err := c1.Stage(ctx, "a.jpg", []byte("x"), models.AttachmentRef{})
	require.NoError(t, err)
	c1.Wait()
	require.Equal(t, models.StageFailed, c1.State(ref.TempHandle))

	// second run over the same store picks the blob back up
	client := &fakeClient{}
	c2 := newCoordinator(t, store, client)
	staged := make(chan string, 1)
	c2.OnStaged = func(h string) { staged <- h }

	require.NoError(t, c2.Restage(ctx))
	c2.Wait()

	assert.Equal(t, models.StageDone, c2.State(ref.TempHandle))
	assert.Equal(t, ref.TempHandle, client.calls[0].fields["temp_id"], "restage reuses the original handle")
	select {
	case h := <-staged:
		assert.Equal(t, ref.TempHandle, h)
	default:
		t.Fatal("OnStaged not called")
	}
}

func TestStage_DuplicateStartJoinsInflight(t *testing.T) {
	store := setupStore(t)
	client := &fakeClient{}
	c := newCoordinator(t, store, client)

	ref, err := c.Stage(context.Background(), "a.jpg", []byte("x"), models.AttachmentRef{})
	require.NoError(t, err)
	c.start(ref.TempHandle)
	c.start(ref.TempHandle)
	c.Wait()

	// at most two uploads could have run; the server-side handle echo
	// keeps even that harmless, but the inflight guard usually collapses
	// them to one
	assert.LessOrEqual(t, client.callCount(), 2)
}
