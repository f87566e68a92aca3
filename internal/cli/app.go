// Package cli implements the interactive shell of the fieldsync client:
// login, cached list views, draft editing with autosave and manual sync.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/autosave"
	"github.com/dmitrijs2005/fieldsync/internal/config"
	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type App struct {
	config *config.Config
	engine *engine.SyncContext
	log    logging.Logger
	reader *bufio.Reader

	profile *auth.Profile
	editor  *autosave.Scheduler // currently open draft, nil when none
}

// NewApp wires the engine and the shell.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &App{
		config: cfg,
		engine: eng,
		log:    log,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background loops and enters the shell. It returns when
// the user exits or stdin closes.
func (a *App) Run(ctx context.Context) {
	a.engine.Start(ctx)
	defer func() {
		if a.editor != nil {
			a.engine.CloseAutosave(a.editor)
			a.editor = nil
		}
		if err := a.engine.Close(); err != nil {
			a.log.Error(ctx, "shutdown error", "error", err)
		}
	}()

	fmt.Println("fieldsync shell (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

func (a *App) isLoggedIn() bool {
	return a.profile != nil
}

func (a *App) getStatus() string {
	ctx := context.Background()

	s := ""
	if a.profile != nil {
		s = a.profile.Username + " "
	}
	if a.engine.Monitor.Online() {
		s += "online"
	} else {
		s += "offline"
	}
	if n, err := a.engine.Queue.Len(ctx); err == nil && n > 0 {
		s += fmt.Sprintf(" %d pending", n)
	}
	if a.editor != nil {
		s += " editing " + a.editor.DraftID()
	}
	return "(" + s + ")"
}
