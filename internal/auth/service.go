// Package auth implements login against the remote API plus an offline
// fallback: after a successful online login, the token pair and user
// profile are cached encrypted under a key derived from the password, so
// the same user can reopen the app without connectivity.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
)

const (
	keyUsername     = storage.PrefixAuth + "username"
	keySalt         = storage.PrefixAuth + "salt"
	keyVerifier     = storage.PrefixAuth + "verifier"
	keyProfile      = storage.PrefixAuth + "profile"
	keyProfileNonce = storage.PrefixAuth + "profile_nonce"
)

// Profile is what a successful login yields.
type Profile struct {
	Username     string          `json:"username"`
	Token        string          `json:"token"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user,omitempty"`
}

// Service defines authentication operations for the shell.
type Service interface {
	// Login authenticates online and refreshes the offline cache.
	Login(ctx context.Context, username string, password []byte) (*Profile, error)

	// OfflineLogin verifies the password against the local cache and
	// restores the cached session without touching the network.
	OfflineLogin(ctx context.Context, username string, password []byte) (*Profile, error)

	// Logout drops the in-memory session. The offline cache is kept so
	// offline login still works, matching the original client.
	Logout(ctx context.Context)

	// ClearOfflineData wipes the cached auth material.
	ClearOfflineData(ctx context.Context) error
}

type service struct {
	client transport.Client
	store  storage.Store
}

// New constructs a Service bound to the given API client and local store.
func New(client transport.Client, store storage.Store) Service {
	return &service{client: client, store: store}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user"`
}

func (s *service) Login(ctx context.Context, username string, password []byte) (*Profile, error) {
	body := loginRequest{Username: username, Password: string(password)}
	data, err := s.client.Send(ctx, http.MethodPost, "/api/login", body)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("login response: %w", err)
	}

	profile := &Profile{
		Username:     username,
		Token:        lr.Token,
		RefreshToken: lr.RefreshToken,
		User:         lr.User,
	}
	s.client.SetTokens(lr.Token, lr.RefreshToken)

	if err := s.saveOfflineData(ctx, username, password, profile); err != nil {
		return nil, fmt.Errorf("offline data saving error: %w", err)
	}
	return profile, nil
}

func (s *service) OfflineLogin(ctx context.Context, username string, password []byte) (*Profile, error) {
	savedUsername, err := s.getCached(ctx, keyUsername)
	if err != nil {
		return nil, err
	}
	if string(savedUsername) != username {
		return nil, common.ErrUnauthorized
	}

	salt, err := s.getCached(ctx, keySalt)
	if err != nil {
		return nil, err
	}
	verifier, err := s.getCached(ctx, keyVerifier)
	if err != nil {
		return nil, err
	}

	key := cryptox.DeriveKey(password, salt)
	candidate := cryptox.MakeVerifier(key)
	if subtle.ConstantTimeCompare(verifier, candidate) == 0 {
		return nil, common.ErrUnauthorized
	}

	ct, err := s.getCached(ctx, keyProfile)
	if err != nil {
		return nil, err
	}
	nonce, err := s.getCached(ctx, keyProfileNonce)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := cryptox.DecryptJSON(ct, nonce, key, &profile); err != nil {
		return nil, fmt.Errorf("failed to decrypt cached profile: %w", err)
	}

	s.client.SetTokens(profile.Token, profile.RefreshToken)
	return &profile, nil
}

func (s *service) Logout(ctx context.Context) {
	s.client.SetTokens("", "")
}

func (s *service) ClearOfflineData(ctx context.Context) error {
	for _, k := range []string{keyUsername, keySalt, keyVerifier, keyProfile, keyProfileNonce} {
		if err := s.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// saveOfflineData persists the material needed for a later offline login:
// username, salt, verifier, and the profile sealed under the derived key.
func (s *service) saveOfflineData(ctx context.Context, username string, password []byte, profile *Profile) error {
	salt := common.GenerateRandByteArray(32)
	key := cryptox.DeriveKey(password, salt)
	verifier := cryptox.MakeVerifier(key)

	ct, nonce, err := cryptox.EncryptJSON(profile, key)
	if err != nil {
		return err
	}

	pairs := map[string][]byte{
		keyUsername:     []byte(username),
		keySalt:         salt,
		keyVerifier:     verifier,
		keyProfile:      ct,
		keyProfileNonce: nonce,
	}
	for k, v := range pairs {
		if err := s.store.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) getCached(ctx context.Context, key string) ([]byte, error) {
	v, err := s.store.Get(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrLocalAuthNotAvailable
	}
	return v, err
}
