// Package reconcile tracks the mapping from client-minted temporary
// identifiers to server-assigned permanent ones, for resources and for
// attachments. The map is written only when save responses are observed;
// the autosave scheduler reads it to rewrite snapshots before send.
// Entries are never removed during a session: rewriting is idempotent and
// cheap, and removal would race a second save still holding the temp id.
package reconcile

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// Map holds the temp→permanent id translations for one session.
type Map struct {
	log logging.Logger

	mu          sync.RWMutex
	resources   map[string]string
	attachments map[string]string
}

// NewMap returns an empty reconciliation map.
func NewMap(log logging.Logger) *Map {
	return &Map{
		log:         log.With("component", "reconcile"),
		resources:   make(map[string]string),
		attachments: make(map[string]string),
	}
}

// RecordResource stores a tempID→permanentID pair. A permanent id, once
// assigned, never changes: a conflicting re-record is ignored and logged.
func (m *Map) RecordResource(ctx context.Context, tempID, permanentID string) {
	if tempID == "" || permanentID == "" || !models.IsTempID(tempID) {
		return
	}
	m.record(ctx, m.resources, "resource", tempID, permanentID)
}

// RecordAttachment stores a tempHandle→permanentID pair under the same
// never-changes rule.
func (m *Map) RecordAttachment(ctx context.Context, tempHandle, permanentID string) {
	if tempHandle == "" || permanentID == "" {
		return
	}
	m.record(ctx, m.attachments, "attachment", tempHandle, permanentID)
}

func (m *Map) record(ctx context.Context, dst map[string]string, what, tempID, permanentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := dst[tempID]; ok {
		if existing != permanentID {
			m.log.Warn(ctx, "conflicting id resolution ignored",
				"kind", what, "temp", tempID, "existing", existing, "new", permanentID)
		}
		return
	}
	dst[tempID] = permanentID
	m.log.Debug(ctx, "id resolved", "kind", what, "temp", tempID, "permanent", permanentID)
}

// ResolveResource returns the permanent id for tempID, or "" if unresolved.
func (m *Map) ResolveResource(tempID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resources[tempID]
}

// ResolveAttachment returns the permanent id for tempHandle, or "".
func (m *Map) ResolveAttachment(tempHandle string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attachments[tempHandle]
}

// RecordSaveResponse folds one save response into the map: the resource id
// (when the saved resource was temp) and every attachment pair.
func (m *Map) RecordSaveResponse(ctx context.Context, resourceID string, resp *models.SaveResponse) {
	if resp == nil {
		return
	}
	if resp.ID != "" {
		m.RecordResource(ctx, resourceID, resp.ID)
	}
	for _, a := range resp.Attachments {
		m.RecordAttachment(ctx, a.TempHandle, a.ID)
	}
}

// RewriteSnapshot rewrites, in place, every resolved temp id appearing in
// the snapshot: the resource id and each attachment ref. Unresolved ids
// are left alone and stay temp on the wire.
func (m *Map) RewriteSnapshot(snap *models.DraftSnapshot) {
	if perm := m.ResolveResource(snap.ResourceID); perm != "" {
		snap.ResourceID = perm
	}
	for i := range snap.Attachments {
		ref := &snap.Attachments[i]
		if ref.PermanentID != "" {
			continue
		}
		if perm := m.ResolveAttachment(ref.TempHandle); perm != "" {
			ref.Promote(perm)
		}
	}
}

// RewriteMutation rewrites a queued mutation's resource id and refs the
// same way, so drained work benefits from resolutions recorded earlier in
// the same cycle.
func (m *Map) RewriteMutation(mut *models.Mutation) {
	if perm := m.ResolveResource(mut.ResourceID); perm != "" {
		mut.ResourceID = perm
		if mut.Operation == models.OpCreate {
			// the server already knows this resource; a replayed create
			// becomes an update of the permanent id
			mut.Operation = models.OpUpdate
		}
	}
	for i := range mut.Refs {
		ref := &mut.Refs[i]
		if ref.PermanentID != "" {
			continue
		}
		if perm := m.ResolveAttachment(ref.TempHandle); perm != "" {
			ref.Promote(perm)
		}
	}
}
