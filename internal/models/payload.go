package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ReportPayload is the field group of one visit report, as accepted by the
// autosave endpoint.
type ReportPayload struct {
	ProjectID         string            `json:"project_id"`
	Title             string            `json:"title"`
	Content           string            `json:"content"`
	Category          string            `json:"category"`
	Location          string            `json:"location"`
	FinalNotes        string            `json:"final_notes,omitempty"`
	NextVisitReminder string            `json:"next_visit_reminder,omitempty"`
	Status            string            `json:"status"`
	Latitude          string            `json:"latitude,omitempty"`
	Longitude         string            `json:"longitude,omitempty"`
	Checklist         map[string]string `json:"checklist,omitempty"`
	Companions        []string          `json:"companions,omitempty"`
}

// VisitPayload is the field group of one scheduled visit.
type VisitPayload struct {
	ProjectID string `json:"project_id"`
	StartedAt string `json:"started_at"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
}

// DecodePayload parses raw into the typed payload for the given kind.
// Unknown fields are rejected so that shape drift is caught at the queue
// boundary rather than on the server.
func DecodePayload(kind ResourceKind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindReport:
		var p ReportPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("report payload: %w", err)
		}
		return &p, nil
	case KindVisit:
		var p VisitPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("visit payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
