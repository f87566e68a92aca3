package models

import "encoding/json"

// Wire shapes exchanged with the remote API. The save request carries the
// resource fields inline plus the attachment list; the response echoes the
// permanent resource id and the tempHandle→id pairs for any attachments
// persisted by this save.

// WireAttachment is one attachment entry inside a save request.
type WireAttachment struct {
	ID         string `json:"id,omitempty"`
	TempHandle string `json:"temp_handle,omitempty"`
	Caption    string `json:"caption,omitempty"`
	Category   string `json:"category,omitempty"`
	Location   string `json:"location,omitempty"`
	Order      int    `json:"order"`
	Delete     bool   `json:"delete,omitempty"`
}

// SaveRequest is the body of POST /api/<kind>s/autosave. Fields carries
// the kind-specific payload verbatim; the engine does not re-interpret it
// on the way out.
type SaveRequest struct {
	ID          string           `json:"id,omitempty"`
	MutationID  string           `json:"mutation_id"`
	Fields      json.RawMessage  `json:"fields"`
	Attachments []WireAttachment `json:"attachments,omitempty"`
}

// AttachmentResult is one tempHandle→permanent-id pair from a save response.
type AttachmentResult struct {
	TempHandle string `json:"temp_handle"`
	ID         string `json:"id"`
}

// SaveResponse is the body returned by the autosave and delete endpoints.
type SaveResponse struct {
	Success     bool               `json:"success"`
	ID          string             `json:"id,omitempty"`
	Error       string             `json:"error,omitempty"`
	Attachments []AttachmentResult `json:"attachments,omitempty"`
}

// StageResponse is the body returned by POST /api/uploads/temp.
type StageResponse struct {
	Success bool   `json:"success"`
	TempID  string `json:"temp_id"`
	Error   string `json:"error,omitempty"`
}

// PullResponse is the authoritative snapshot returned by GET /api/sync/down.
type PullResponse struct {
	Projects []map[string]any `json:"projects"`
	Reports  []map[string]any `json:"reports"`
	Visits   []map[string]any `json:"visits"`
	SyncTime string           `json:"sync_time"`
}

// WireRef converts an AttachmentRef to its wire form, using the permanent
// id when one is known and the temp handle otherwise.
func WireRef(r AttachmentRef) WireAttachment {
	w := WireAttachment{
		Caption:  r.Caption,
		Category: r.Category,
		Location: r.Location,
		Order:    r.Order,
		Delete:   r.Delete,
	}
	if r.PermanentID != "" {
		w.ID = r.PermanentID
	} else {
		w.TempHandle = r.TempHandle
	}
	return w
}
