package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB)`)
	require.NoError(t, err)
	return db
}

func TestSQLiteStore_PutGetDelete(t *testing.T) {
	s := NewSQLiteStore(setupDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "meta/last_full_sync_at", []byte("2026-08-31T10:00:00Z")))

	v, err := s.Get(ctx, "meta/last_full_sync_at")
	require.NoError(t, err)
	assert.Equal(t, []byte("2026-08-31T10:00:00Z"), v)

	// overwrite
	require.NoError(t, s.Put(ctx, "meta/last_full_sync_at", []byte("later")))
	v, err = s.Get(ctx, "meta/last_full_sync_at")
	require.NoError(t, err)
	assert.Equal(t, []byte("later"), v)

	require.NoError(t, s.Delete(ctx, "meta/last_full_sync_at"))
	_, err = s.Get(ctx, "meta/last_full_sync_at")
	require.ErrorIs(t, err, common.ErrNotFound)

	// deleting an absent key is fine
	require.NoError(t, s.Delete(ctx, "meta/never_existed"))
}

func TestSQLiteStore_ListKeys_PrefixAndOrder(t *testing.T) {
	s := NewSQLiteStore(setupDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "queue/00000000000000000002", []byte("b")))
	require.NoError(t, s.Put(ctx, "queue/00000000000000000001", []byte("a")))
	require.NoError(t, s.Put(ctx, "queueid/abc", []byte("1")))
	require.NoError(t, s.Put(ctx, "meta/x", []byte("m")))

	keys, err := s.ListKeys(ctx, "queue/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"queue/00000000000000000001",
		"queue/00000000000000000002",
	}, keys)

	keys, err = s.ListKeys(ctx, "blob/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLiteStore_Update_CommitAndRollback(t *testing.T) {
	s := NewSQLiteStore(setupDB(t))
	ctx := context.Background()

	err := s.Update(ctx, func(tx Store) error {
		if err := tx.Put(ctx, "queue/1", []byte("a")); err != nil {
			return err
		}
		return tx.Put(ctx, "queueid/m1", []byte("queue/1"))
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "queueid/m1")
	require.NoError(t, err)

	// a failing fn rolls the whole group back
	boom := errors.New("boom")
	err = s.Update(ctx, func(tx Store) error {
		if err := tx.Put(ctx, "queue/2", []byte("b")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "queue/2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOpen_AppliesMigrations(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "fieldsync.db")
	ctx := context.Background()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLiteStore(db)
	require.NoError(t, s.Put(ctx, "meta/x", []byte("1")))

	// reopen: data survives, migrations are idempotent
	require.NoError(t, db.Close())
	db2, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	v, err := NewSQLiteStore(db2).Get(ctx, "meta/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}
