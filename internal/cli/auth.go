package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for credentials and tries to authenticate.
//
// The method first attempts an online login. If the server is unreachable
// (errors.Is(err, common.ErrOffline)), it falls back to the encrypted local
// cache, so a user who has logged in before can keep working on site. A
// successful online login also kicks off a sync cycle in the background.
//
// The password is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	profile, err := a.engine.Auth.Login(ctx, userName, password)
	if err != nil {
		if !errors.Is(err, common.ErrOffline) {
			fmt.Println("Login failed:", err)
			return err
		}

		fmt.Println("Server unreachable, trying offline login...")
		profile, err = a.engine.Auth.OfflineLogin(ctx, userName, password)
		if err != nil {
			fmt.Println("Offline login failed:", err)
			return err
		}
		a.profile = profile
		fmt.Println("Logged in from local cache. Changes will sync when the server is back.")
		return nil
	}

	a.profile = profile
	a.engine.Monitor.SetOnline(ctx, true)
	fmt.Println("Logged in.")

	go func() {
		_ = a.engine.Syncer.Sync(context.Background(), "login")
	}()
	return nil
}

// Logout drops the in-memory session. Pending work stays queued and the
// offline cache is kept so login still works without connectivity.
func (a *App) Logout(ctx context.Context) error {
	a.engine.Auth.Logout(ctx)
	a.profile = nil
	fmt.Println("Logged out.")
	return nil
}
