// Package queue implements the durable FIFO mutation queue. Insertion
// order equals causal order for a single draft, which is the only ordering
// the engine guarantees; one failing mutation never blocks the ones behind
// it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
)

// Sender pushes one mutation to the remote API. The returned error is
// expected to carry one of the common taxonomy sentinels.
type Sender func(ctx context.Context, m *models.Mutation) error

// DrainResult reports one drain pass.
type DrainResult struct {
	Succeeded []string
	Failed    []string
}

// MutationQueue is the ordered list of pending writes, durably backed by
// the key-value store. It is owned by the SyncContext created at startup
// and injected into collaborators; there is no ambient global queue.
type MutationQueue struct {
	store storage.Store
	log   logging.Logger

	mu      sync.Mutex
	nextSeq uint64
}

// New loads queue state from the store. The next sequence number is derived
// from the highest existing key so restarts never reuse a slot.
func New(ctx context.Context, store storage.Store, log logging.Logger) (*MutationQueue, error) {
	q := &MutationQueue{store: store, log: log.With("component", "queue")}

	keys, err := store.ListKeys(ctx, storage.PrefixQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	if len(keys) > 0 {
		last := strings.TrimPrefix(keys[len(keys)-1], storage.PrefixQueue)
		n, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt queue key %q: %w", keys[len(keys)-1], err)
		}
		q.nextSeq = n + 1
	}
	return q, nil
}

func itemKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", storage.PrefixQueue, seq)
}

func markerKey(id string) string {
	return storage.PrefixQueueID + id
}

// Enqueue appends m to the durable queue. A mutation whose idempotency key
// is already queued is left untouched: overlapping autosave cycles may try
// to enqueue the same mutation twice, and the first write wins.
func (q *MutationQueue) Enqueue(ctx context.Context, m *models.Mutation) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.store.Get(ctx, markerKey(m.ID)); err == nil {
		q.log.Debug(ctx, "mutation already queued", "id", m.ID)
		return nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	// The marker maps the idempotency key back to its queue slot. Item
	// and marker go in together where the store supports transactions;
	// otherwise a crash between the writes loses the duplicate guard for
	// this one id and the server-side idempotency key still dedups.
	key := itemKey(q.nextSeq)
	write := func(st storage.Store) error {
		if err := st.Put(ctx, key, value); err != nil {
			return err
		}
		return st.Put(ctx, markerKey(m.ID), []byte(key))
	}
	var werr error
	if tx, ok := q.store.(storage.Transactional); ok {
		werr = tx.Update(ctx, write)
	} else {
		werr = write(q.store)
	}
	if werr != nil {
		return werr
	}

	q.nextSeq++
	q.log.Info(ctx, "mutation enqueued", "id", m.ID, "kind", m.Kind, "op", m.Operation)
	return nil
}

// Drain walks the queue as it existed when the pass started, in FIFO
// order, calling send for each mutation.
//
//   - success: the mutation is removed.
//   - Unauthorized: the pass aborts; remaining mutations stay queued.
//   - Rejected (non-auth 4xx): the mutation is dropped with a visible
//     error; retrying a request the server already refused cannot succeed.
//   - anything else: Attempts is incremented, LastError recorded, and the
//     pass continues with the next item. The retry happens on the next
//     drain, driven by the orchestrator's schedule, never immediately.
//
// Mutations enqueued while the pass runs are not part of it.
func (q *MutationQueue) Drain(ctx context.Context, send Sender) (DrainResult, error) {
	var res DrainResult

	keys, err := q.store.ListKeys(ctx, storage.PrefixQueue)
	if err != nil {
		return res, fmt.Errorf("failed to snapshot queue: %w", err)
	}

	for _, key := range keys {
		value, err := q.store.Get(ctx, key)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}

		var m models.Mutation
		if err := json.Unmarshal(value, &m); err != nil {
			q.log.Error(ctx, "dropping corrupt queue entry", "key", key, "error", err)
			_ = q.store.Delete(ctx, key)
			continue
		}

		sendErr := send(ctx, &m)
		switch {
		case sendErr == nil:
			if err := q.remove(ctx, key, m.ID); err != nil {
				return res, err
			}
			res.Succeeded = append(res.Succeeded, m.ID)

		case errors.Is(sendErr, common.ErrUnauthorized):
			res.Failed = append(res.Failed, m.ID)
			return res, sendErr

		case errors.Is(sendErr, common.ErrRejected):
			q.log.Error(ctx, "mutation rejected by server, dropping",
				"id", m.ID, "kind", m.Kind, "error", sendErr)
			if err := q.remove(ctx, key, m.ID); err != nil {
				return res, err
			}
			res.Failed = append(res.Failed, m.ID)

		default:
			m.Attempts++
			m.LastError = sendErr.Error()
			updated, err := json.Marshal(&m)
			if err != nil {
				return res, err
			}
			if err := q.store.Put(ctx, key, updated); err != nil {
				return res, err
			}
			q.log.Warn(ctx, "mutation send failed, kept for next drain",
				"id", m.ID, "attempts", m.Attempts, "error", sendErr)
			res.Failed = append(res.Failed, m.ID)
		}
	}

	return res, nil
}

// Len returns the number of pending mutations.
func (q *MutationQueue) Len(ctx context.Context) (int, error) {
	keys, err := q.store.ListKeys(ctx, storage.PrefixQueue)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// List returns the pending mutations in FIFO order, for status displays.
func (q *MutationQueue) List(ctx context.Context) ([]*models.Mutation, error) {
	keys, err := q.store.ListKeys(ctx, storage.PrefixQueue)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Mutation, 0, len(keys))
	for _, key := range keys {
		value, err := q.store.Get(ctx, key)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m models.Mutation
		if err := json.Unmarshal(value, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (q *MutationQueue) remove(ctx context.Context, key, id string) error {
	del := func(st storage.Store) error {
		if err := st.Delete(ctx, key); err != nil {
			return err
		}
		return st.Delete(ctx, markerKey(id))
	}
	if tx, ok := q.store.(storage.Transactional); ok {
		return tx.Update(ctx, del)
	}
	return del(q.store)
}
