package models

import "github.com/google/uuid"

// StageState tracks the lifecycle of a staged binary.
type StageState string

const (
	StagePending   StageState = "pending"
	StageUploading StageState = "uploading"
	StageDone      StageState = "staged"
	StageFailed    StageState = "failed"
)

// AttachmentRef links a draft to one binary attachment. Exactly one of
// TempHandle/PermanentID is authoritative at any time: TempHandle until the
// owning resource has been durably saved once, PermanentID after. The
// binary itself lives under LocalBlobKey in the durable store until staged.
type AttachmentRef struct {
	TempHandle   string `json:"temp_handle,omitempty"`
	PermanentID  string `json:"permanent_id,omitempty"`
	LocalBlobKey string `json:"local_blob_key,omitempty"`
	Caption      string `json:"caption,omitempty"`
	Category     string `json:"category,omitempty"`
	Location     string `json:"location,omitempty"`
	Order        int    `json:"order"`
	Delete       bool   `json:"delete,omitempty"`
}

// Authoritative returns the identifier the server should currently use for
// this attachment.
func (r *AttachmentRef) Authoritative() string {
	if r.PermanentID != "" {
		return r.PermanentID
	}
	return r.TempHandle
}

// Promote switches the ref from its temp handle to the given permanent id.
// The temp handle is kept so late responses referencing it still match.
func (r *AttachmentRef) Promote(permanentID string) {
	r.PermanentID = permanentID
}

const tempHandlePrefix = "tmp_"

// NewTempHandle mints a client-side staging handle. The handle is sent with
// the staging upload and echoed back, which makes re-staging after a crash
// idempotent.
func NewTempHandle() string {
	return tempHandlePrefix + uuid.NewString()
}
