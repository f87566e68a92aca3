package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"
)

type fakeExec struct {
	loggedIn bool

	calls []string
	args  []string
}

func (f *fakeExec) record(cmd string, args ...string) {
	f.calls = append(f.calls, cmd)
	f.args = append(f.args, strings.Join(args, " "))
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Login(ctx context.Context) error {
	f.record("login")
	f.loggedIn = true
	return nil
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.record("logout")
	f.loggedIn = false
	return nil
}
func (f *fakeExec) List(ctx context.Context, kind string) error {
	f.record("list", kind)
	return nil
}
func (f *fakeExec) NewReport(ctx context.Context) error { f.record("new"); return nil }
func (f *fakeExec) Open(ctx context.Context, id string) error {
	f.record("open", id)
	return nil
}
func (f *fakeExec) Edit(ctx context.Context, field, value string) error {
	f.record("edit", field, value)
	return nil
}
func (f *fakeExec) Attach(ctx context.Context, path, caption string) error {
	f.record("attach", path, caption)
	return nil
}
func (f *fakeExec) Detach(ctx context.Context, id string) error {
	f.record("detach", id)
	return nil
}
func (f *fakeExec) CloseDraft(ctx context.Context) error { f.record("close"); return nil }
func (f *fakeExec) Delete(ctx context.Context, id string) error {
	f.record("delete", id)
	return nil
}
func (f *fakeExec) ShowStatus(ctx context.Context) error { f.record("status"); return nil }
func (f *fakeExec) Sync(ctx context.Context) error       { f.record("sync"); return nil }

func TestRunREPL_EditFlow(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader(strings.Join([]string{
		"help",
		"login",
		"help",
		"list visits",
		"new",
		"edit title Foundation pour inspection",
		"attach /tmp/wall.jpg north wall",
		"close",
		"sync",
		"foobar",
		"exit",
	}, "\n"))

	exec := &fakeExec{loggedIn: false}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "status" }, sc)

	wantOrder := []string{"login", "list", "new", "edit", "attach", "close", "sync"}
	idx := 0
	for _, c := range exec.calls {
		if idx < len(wantOrder) && c == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Fatalf("commands order mismatch: got %v, want subseq %v", exec.calls, wantOrder)
	}

	// multi-word values reach the handler joined back together
	for i, c := range exec.calls {
		switch c {
		case "edit":
			if exec.args[i] != "title Foundation pour inspection" {
				t.Fatalf("edit args: %q", exec.args[i])
			}
		case "attach":
			if exec.args[i] != "/tmp/wall.jpg north wall" {
				t.Fatalf("attach args: %q", exec.args[i])
			}
		case "list":
			if exec.args[i] != "visit" {
				t.Fatalf("list kind: %q", exec.args[i])
			}
		}
	}
}

func TestRunREPL_UsageAndQuit(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader("open\nedit title\nattach\ndetach\ndelete\nquit\n")
	exec := &fakeExec{loggedIn: true}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "s" }, sc)

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}
