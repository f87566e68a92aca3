package models

import "time"

// Draft is the in-memory snapshot of one editable resource. It is owned
// exclusively by the autosave scheduler bound to it. Version increments on
// every local edit; a save response taken at version N is discarded if the
// draft has advanced past N by the time the response arrives.
type Draft struct {
	ID          string
	Kind        ResourceKind
	Fields      map[string]string
	Attachments []AttachmentRef
	Dirty       bool
	Version     int64
	LastSavedAt time.Time
}

// NewDraft returns a clean draft for the given kind. An empty id is
// replaced with a client-minted temporary one.
func NewDraft(kind ResourceKind, id string) *Draft {
	if id == "" {
		id = NewTempID()
	}
	return &Draft{
		ID:     id,
		Kind:   kind,
		Fields: make(map[string]string),
	}
}

// SetField records an edit and bumps the version.
func (d *Draft) SetField(name, value string) {
	if d.Fields[name] == value {
		return
	}
	d.Fields[name] = value
	d.Dirty = true
	d.Version++
}

// AddAttachment appends a ref and bumps the version.
func (d *Draft) AddAttachment(ref AttachmentRef) {
	ref.Order = len(d.Attachments)
	d.Attachments = append(d.Attachments, ref)
	d.Dirty = true
	d.Version++
}

// MarkAttachmentDeleted flags the ref with the given handle or permanent id
// for deletion on the next save.
func (d *Draft) MarkAttachmentDeleted(id string) bool {
	for i := range d.Attachments {
		if d.Attachments[i].TempHandle == id || d.Attachments[i].PermanentID == id {
			d.Attachments[i].Delete = true
			d.Dirty = true
			d.Version++
			return true
		}
	}
	return false
}

// PruneDeleted drops refs whose deletion the server has confirmed.
func (d *Draft) PruneDeleted() {
	kept := d.Attachments[:0]
	for _, ref := range d.Attachments {
		if !ref.Delete {
			kept = append(kept, ref)
		}
	}
	d.Attachments = kept
}

// Snapshot returns a deep copy of the draft's sendable state, taken between
// suspension points so it cannot be mutated by later edits.
func (d *Draft) Snapshot() DraftSnapshot {
	fields := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	refs := make([]AttachmentRef, len(d.Attachments))
	copy(refs, d.Attachments)
	return DraftSnapshot{
		ResourceID:  d.ID,
		Kind:        d.Kind,
		Fields:      fields,
		Attachments: refs,
		Version:     d.Version,
	}
}

// DraftSnapshot is the immutable view of a draft captured for one flush.
type DraftSnapshot struct {
	ResourceID  string
	Kind        ResourceKind
	Fields      map[string]string
	Attachments []AttachmentRef
	Version     int64
}

// SyncStatus is the read-only view consumed by the UI layer.
type SyncStatus struct {
	Dirty        bool
	Saving       bool
	LastSavedAt  time.Time
	PendingCount int
	Online       bool
	LastError    string
}
