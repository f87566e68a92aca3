package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
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

func loginServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Username != "inspector" || body.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token":         "jwt-access",
			"refresh_token": "jwt-refresh",
			"user":          map[string]string{"name": "Inspector"},
		})
	}))
}

func TestLogin_OnlineThenOffline(t *testing.T) {
	srv := loginServer(t)
	defer srv.Close()

	store := setupStore(t)
	client := transport.NewHTTPClient(srv.URL, time.Second)
	svc := New(client, store)
	ctx := context.Background()

	profile, err := svc.Login(ctx, "inspector", []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "jwt-access", profile.Token)

	// Server goes away; offline login must still work with the right
	// password and restore the cached token pair.
	srv.Close()

	offline, err := svc.OfflineLogin(ctx, "inspector", []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "jwt-access", offline.Token)
	assert.Equal(t, "jwt-refresh", offline.RefreshToken)
	assert.Equal(t, "inspector", offline.Username)
}

func TestOfflineLogin_WrongPassword(t *testing.T) {
	srv := loginServer(t)
	defer srv.Close()

	store := setupStore(t)
	svc := New(transport.NewHTTPClient(srv.URL, time.Second), store)
	ctx := context.Background()

	_, err := svc.Login(ctx, "inspector", []byte("hunter2"))
	require.NoError(t, err)

	_, err = svc.OfflineLogin(ctx, "inspector", []byte("wrong"))
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestOfflineLogin_NoCache(t *testing.T) {
	store := setupStore(t)
	svc := New(transport.NewHTTPClient("http://127.0.0.1:1", time.Second), store)

	_, err := svc.OfflineLogin(context.Background(), "inspector", []byte("hunter2"))
	require.ErrorIs(t, err, common.ErrLocalAuthNotAvailable)
}

func TestOfflineLogin_WrongUsername(t *testing.T) {
	srv := loginServer(t)
	defer srv.Close()

	store := setupStore(t)
	svc := New(transport.NewHTTPClient(srv.URL, time.Second), store)
	ctx := context.Background()

	_, err := svc.Login(ctx, "inspector", []byte("hunter2"))
	require.NoError(t, err)

	_, err = svc.OfflineLogin(ctx, "somebody", []byte("hunter2"))
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestClearOfflineData(t *testing.T) {
	srv := loginServer(t)
	defer srv.Close()

	store := setupStore(t)
	svc := New(transport.NewHTTPClient(srv.URL, time.Second), store)
	ctx := context.Background()

	_, err := svc.Login(ctx, "inspector", []byte("hunter2"))
	require.NoError(t, err)

	require.NoError(t, svc.ClearOfflineData(ctx))
	_, err = svc.OfflineLogin(ctx, "inspector", []byte("hunter2"))
	require.ErrorIs(t, err, common.ErrLocalAuthNotAvailable)
}

func TestLogin_BadCredentialsSurfaceUnauthorized(t *testing.T) {
	srv := loginServer(t)
	defer srv.Close()

	svc := New(transport.NewHTTPClient(srv.URL, time.Second), setupStore(t))
	_, err := svc.Login(context.Background(), "inspector", []byte("nope"))
	require.ErrorIs(t, err, common.ErrUnauthorized)
}
