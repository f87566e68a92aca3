// Package models defines the data types moved between the durable store,
// the sync engine and the remote API: mutations, attachment references,
// drafts and wire shapes.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceKind classifies the editable entities known to the engine.
type ResourceKind string

const (
	KindReport  ResourceKind = "report"
	KindVisit   ResourceKind = "visit"
	KindProject ResourceKind = "project"
)

// Operation is the kind of write a mutation carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

var (
	ErrUnknownKind      = errors.New("unknown resource kind")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrEmptyPayload     = errors.New("empty payload")
)

// Mutation is one pending write operation. ID is the idempotency key: it is
// minted exactly once, when the mutation is created, and reused verbatim on
// every retry so the server can deduplicate. The only fields that change
// after creation are Attempts and LastError.
type Mutation struct {
	ID         string          `json:"id"`
	Kind       ResourceKind    `json:"kind"`
	ResourceID string          `json:"resource_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Refs       []AttachmentRef `json:"attachment_refs,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewMutation mints a mutation with a fresh idempotency key.
func NewMutation(kind ResourceKind, resourceID string, op Operation, payload json.RawMessage, refs []AttachmentRef) *Mutation {
	return &Mutation{
		ID:         uuid.NewString(),
		Kind:       kind,
		ResourceID: resourceID,
		Operation:  op,
		Payload:    payload,
		Refs:       refs,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks the mutation shape at the queue boundary: known kind and
// operation, and a decodable payload for create/update.
func (m *Mutation) Validate() error {
	switch m.Kind {
	case KindReport, KindVisit:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}

	switch m.Operation {
	case OpCreate, OpUpdate:
		if len(m.Payload) == 0 {
			return ErrEmptyPayload
		}
		if _, err := DecodePayload(m.Kind, m.Payload); err != nil {
			return err
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, m.Operation)
	}

	if m.ID == "" {
		return errors.New("mutation has no idempotency key")
	}
	return nil
}

const tempIDPrefix = "local_"

// NewTempID mints a client-side placeholder identifier for a resource that
// has not been created on the server yet.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id is a client-minted placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
