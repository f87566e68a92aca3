package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	List(ctx context.Context, kind string) error
	NewReport(ctx context.Context) error
	Open(ctx context.Context, id string) error
	Edit(ctx context.Context, field, value string) error
	Attach(ctx context.Context, path, caption string) error
	Detach(ctx context.Context, id string) error
	CloseDraft(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	ShowStatus(ctx context.Context) error
	Sync(ctx context.Context) error
}

// runREPL starts a read–eval–print loop for the fieldsync shell.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands:
//
//	Not logged in:
//	  - help           — show available commands
//	  - login          — authenticate (falls back to the offline cache)
//	  - exit | quit    — leave the program
//
//	Logged in:
//	  - list [kind]    — list cached reports/visits/projects
//	  - new            — open a new report draft
//	  - open <id>      — open an existing report for editing
//	  - edit <f> <v>   — set a field on the open draft
//	  - attach <path> [caption] — add a photo to the open draft
//	  - detach <id>    — flag an attachment for deletion
//	  - close          — flush and close the open draft
//	  - delete <id>    — delete a report
//	  - status         — show sync state
//	  - sync           — run a full sync cycle now
//	  - logout, exit
//
// Any errors returned by command handlers are ignored here; handlers
// report their own errors. This keeps the REPL loop resilient and focused
// on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("fs %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: list, new, open, edit, attach, detach, close, delete, status, sync, logout, exit")
			} else {
				printlnFn("Available commands: login, status, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "l", "list":
			kind := "report"
			if len(args) > 0 {
				kind = strings.TrimSuffix(args[0], "s")
			}
			_ = a.List(ctx, kind)

		case "new":
			_ = a.NewReport(ctx)

		case "open":
			if len(args) == 0 {
				printlnFn("Usage: open <id>")
				continue
			}
			_ = a.Open(ctx, args[0])

		case "edit":
			if len(args) < 2 {
				printlnFn("Usage: edit <field> <value>")
				continue
			}
			_ = a.Edit(ctx, args[0], strings.Join(args[1:], " "))

		case "attach":
			if len(args) == 0 {
				printlnFn("Usage: attach <path> [caption]")
				continue
			}
			caption := strings.Join(args[1:], " ")
			_ = a.Attach(ctx, args[0], caption)

		case "detach":
			if len(args) == 0 {
				printlnFn("Usage: detach <attachment id>")
				continue
			}
			_ = a.Detach(ctx, args[0])

		case "close":
			_ = a.CloseDraft(ctx)

		case "delete":
			if len(args) == 0 {
				printlnFn("Usage: delete <id>")
				continue
			}
			_ = a.Delete(ctx, args[0])

		case "status":
			_ = a.ShowStatus(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
