package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("15:04:05")
}

// List prints the cached collection for kind. The cache is whatever the
// last successful pull delivered, so this works offline.
func (a *App) List(ctx context.Context, kind string) error {
	k := models.ResourceKind(kind)
	switch k {
	case models.KindReport, models.KindVisit, models.KindProject:
	default:
		fmt.Println("Unknown kind:", kind)
		return nil
	}

	items, err := a.engine.Cache.List(ctx, k)
	if err != nil {
		fmt.Println("List failed:", err)
		return err
	}
	if len(items) == 0 {
		fmt.Printf("No cached %ss. Run 'sync' while online.\n", kind)
		return nil
	}

	for _, item := range items {
		id, _ := item["id"].(string)
		title, _ := item["title"].(string)
		if title == "" {
			title, _ = item["name"].(string)
		}
		fmt.Printf("  %-24s %s\n", id, title)
	}
	return nil
}

// NewReport opens a fresh report draft with autosave bound to it.
func (a *App) NewReport(ctx context.Context) error {
	if err := a.CloseDraft(ctx); err != nil {
		return err
	}
	draft := models.NewDraft(models.KindReport, "")
	a.editor = a.engine.NewAutosave(draft)
	fmt.Println("New report draft", draft.ID)
	return nil
}

// Open loads a cached report into a draft for editing.
func (a *App) Open(ctx context.Context, id string) error {
	item, err := a.engine.Cache.Find(ctx, models.KindReport, id)
	if err != nil {
		fmt.Println("Not in local cache:", id)
		return err
	}

	if err := a.CloseDraft(ctx); err != nil {
		return err
	}

	draft := models.NewDraft(models.KindReport, id)
	for name, value := range item {
		if s, ok := value.(string); ok && name != "id" {
			draft.Fields[name] = s
		}
	}
	a.editor = a.engine.NewAutosave(draft)
	fmt.Println("Editing report", id)
	return nil
}

// Edit sets one field on the open draft. The autosave debounce picks the
// change up; nothing else to do here.
func (a *App) Edit(ctx context.Context, field, value string) error {
	if a.editor == nil {
		fmt.Println("No open draft. Use 'new' or 'open <id>' first.")
		return nil
	}
	a.editor.SetField(field, value)
	return nil
}

// Attach reads a local photo and adds it to the open draft. The binary is
// persisted locally first and uploaded in the background.
func (a *App) Attach(ctx context.Context, path, caption string) error {
	if a.editor == nil {
		fmt.Println("No open draft. Use 'new' or 'open <id>' first.")
		return nil
	}

	blob, err := filex.ReadCapped(path, filex.MaxAttachmentSize)
	if err != nil {
		fmt.Println("Attach failed:", err)
		return err
	}

	ref, err := a.editor.AddAttachment(ctx, filepath.Base(path), blob, models.AttachmentRef{Caption: caption})
	if err != nil {
		fmt.Println("Attach failed:", err)
		return err
	}
	fmt.Println("Attached", ref.TempHandle)
	return nil
}

// Detach flags an attachment of the open draft for deletion.
func (a *App) Detach(ctx context.Context, id string) error {
	if a.editor == nil {
		fmt.Println("No open draft.")
		return nil
	}
	if !a.editor.RemoveAttachment(id) {
		fmt.Println("No such attachment:", id)
	}
	return nil
}

// CloseDraft flushes and closes the open draft, if any.
func (a *App) CloseDraft(ctx context.Context) error {
	if a.editor == nil {
		return nil
	}
	a.engine.CloseAutosave(a.editor)
	fmt.Println("Draft", a.editor.DraftID(), "closed")
	a.editor = nil
	return nil
}

// Delete queues a report deletion. It syncs like any other mutation.
func (a *App) Delete(ctx context.Context, id string) error {
	m := models.NewMutation(models.KindReport, id, models.OpDelete, nil, nil)
	if err := a.engine.Queue.Enqueue(ctx, m); err != nil {
		fmt.Println("Delete failed:", err)
		return err
	}
	fmt.Println("Deletion queued for", id)
	return nil
}

// ShowStatus prints the sync state: the open draft's save state plus the
// engine-wide queue and connectivity view.
func (a *App) ShowStatus(ctx context.Context) error {
	if a.editor != nil {
		st := a.editor.Status(ctx)
		fmt.Printf("draft: dirty=%v saving=%v last_saved=%s\n",
			st.Dirty, st.Saving, fmtTime(st.LastSavedAt))
		if st.LastError != "" {
			fmt.Println("last error:", st.LastError)
		}
	}

	n, _ := a.engine.Queue.Len(ctx)
	fmt.Printf("online=%v pending=%d syncing=%v\n",
		a.engine.Monitor.Online(), n, a.engine.Syncer.Syncing())
	if last := a.engine.Syncer.LastFullSyncAt(ctx); last != "" {
		fmt.Println("last full sync:", last)
	}
	if errMsg := a.engine.Syncer.LastError(); errMsg != "" {
		fmt.Println("last sync error:", errMsg)
	}
	if failed := a.engine.Uploads.Failed(); len(failed) > 0 {
		fmt.Println("failed uploads:", failed)
	}
	return nil
}

// Sync runs a full push-then-pull cycle now.
func (a *App) Sync(ctx context.Context) error {
	if err := a.engine.Syncer.Sync(ctx, "manual"); err != nil {
		fmt.Println("Sync failed:", err)
		return err
	}
	fmt.Println("Sync finished.")
	return nil
}
