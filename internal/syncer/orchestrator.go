// Package syncer coordinates full synchronization cycles: drain the
// mutation queue to the server, then pull the authoritative snapshot into
// the read cache. At most one cycle runs at a time; triggers that arrive
// while a cycle is running are dropped, the periodic schedule retries soon
// enough.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/cache"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
	"github.com/dmitrijs2005/fieldsync/internal/queue"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
)

const (
	pullPath    = "/api/sync/down"
	metaKeyLast = storage.PrefixMeta + "last_full_sync_at"
)

// Orchestrator runs push-then-pull cycles against the remote API.
type Orchestrator struct {
	queue   *queue.MutationQueue
	client  transport.Client
	cache   *cache.Cache
	store   storage.Store
	ids     *reconcile.Map
	monitor *netx.Monitor
	log     logging.Logger

	interval time.Duration
	running  atomic.Bool

	mu         sync.Mutex
	lastErr    string
	lastSyncAt time.Time
}

// New wires an orchestrator over the given collaborators.
func New(q *queue.MutationQueue, client transport.Client, c *cache.Cache,
	store storage.Store, ids *reconcile.Map, monitor *netx.Monitor,
	interval time.Duration, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		queue:    q,
		client:   client,
		cache:    c,
		store:    store,
		ids:      ids,
		monitor:  monitor,
		interval: interval,
		log:      log.With("component", "syncer"),
	}
}

// Sync runs one full cycle. While the monitor reports offline the cycle
// is skipped before any push; queued mutations keep their attempt counts
// until the server is reachable again. A second call while a cycle is
// running returns immediately without doing anything.
func (o *Orchestrator) Sync(ctx context.Context, reason string) error {
	if !o.monitor.Online() {
		o.log.Debug(ctx, "offline, sync cycle skipped", "reason", reason)
		return nil
	}
	if !o.running.CompareAndSwap(false, true) {
		o.log.Debug(ctx, "sync already running, trigger dropped", "reason", reason)
		return nil
	}
	defer o.running.Store(false)

	o.log.Info(ctx, "sync cycle started", "reason", reason)
	err := o.cycle(ctx)

	o.mu.Lock()
	if err != nil {
		o.lastErr = err.Error()
	} else {
		o.lastErr = ""
		o.lastSyncAt = time.Now().UTC()
	}
	o.mu.Unlock()

	if err != nil {
		o.log.Error(ctx, "sync cycle failed", "reason", reason, "error", err)
		if errors.Is(err, common.ErrOffline) {
			o.monitor.SetOnline(ctx, false)
		}
		return err
	}
	o.log.Info(ctx, "sync cycle finished", "reason", reason)
	return nil
}

// Syncing reports whether a cycle is currently running.
func (o *Orchestrator) Syncing() bool { return o.running.Load() }

// LastError returns the outcome of the most recent cycle, "" on success.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// LastSyncAt returns when the last successful cycle finished.
func (o *Orchestrator) LastSyncAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSyncAt
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	res, err := o.queue.Drain(ctx, o.send)
	if err != nil {
		return fmt.Errorf("push failed after %d mutations: %w", len(res.Succeeded), err)
	}
	if len(res.Failed) > 0 {
		o.log.Warn(ctx, "push left mutations queued",
			"sent", len(res.Succeeded), "kept", len(res.Failed))
	}

	if err := o.pull(ctx); err != nil {
		// pushed work is already acknowledged; only the cache is stale
		return fmt.Errorf("pull failed: %w", err)
	}
	return nil
}

// send pushes one queued mutation, translating temp ids that were resolved
// earlier in the same cycle.
func (o *Orchestrator) send(ctx context.Context, m *models.Mutation) error {
	o.ids.RewriteMutation(m)

	switch m.Operation {
	case models.OpDelete:
		return o.sendDelete(ctx, m)
	default:
		return o.sendSave(ctx, m)
	}
}

func kindPath(kind models.ResourceKind) string {
	return "/api/" + string(kind) + "s"
}

func (o *Orchestrator) sendSave(ctx context.Context, m *models.Mutation) error {
	req := models.SaveRequest{
		MutationID: m.ID,
		Fields:     m.Payload,
	}
	// a still-unresolved temp id is omitted: the server treats the save
	// as a create and answers with the permanent id
	if !models.IsTempID(m.ResourceID) {
		req.ID = m.ResourceID
	}
	for _, ref := range m.Refs {
		req.Attachments = append(req.Attachments, models.WireRef(ref))
	}

	body, err := o.client.Send(ctx, http.MethodPost, kindPath(m.Kind)+"/autosave", req)
	if err != nil {
		return err
	}
	resp, err := decodeSaveResponse(body)
	if err != nil {
		return err
	}
	o.ids.RecordSaveResponse(ctx, m.ResourceID, resp)
	return nil
}

func (o *Orchestrator) sendDelete(ctx context.Context, m *models.Mutation) error {
	if models.IsTempID(m.ResourceID) {
		// never reached the server, nothing to delete there
		o.log.Debug(ctx, "delete of unsynced resource resolved locally", "id", m.ResourceID)
		return nil
	}
	body, err := o.client.Send(ctx, http.MethodDelete, kindPath(m.Kind)+"/"+m.ResourceID, nil)
	if err != nil {
		return err
	}
	_, err = decodeSaveResponse(body)
	return err
}

func decodeSaveResponse(body []byte) (*models.SaveResponse, error) {
	var resp models.SaveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: undecodable save response: %v", common.ErrRejected, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", common.ErrRejected, resp.Error)
	}
	return &resp, nil
}

func (o *Orchestrator) pull(ctx context.Context) error {
	body, err := o.client.Send(ctx, http.MethodGet, pullPath, nil)
	if err != nil {
		return err
	}
	var resp models.PullResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("undecodable pull response: %w", err)
	}
	if err := o.cache.ReplaceAll(ctx, &resp); err != nil {
		return err
	}

	stamp := resp.SyncTime
	if stamp == "" {
		stamp = time.Now().UTC().Format(time.RFC3339)
	}
	if err := o.store.Put(ctx, metaKeyLast, []byte(stamp)); err != nil {
		o.log.Warn(ctx, "could not persist sync timestamp", "error", err)
	}
	return nil
}

// LastFullSyncAt returns the persisted timestamp of the last completed
// pull, "" if none has happened yet.
func (o *Orchestrator) LastFullSyncAt(ctx context.Context) string {
	raw, err := o.store.Get(ctx, metaKeyLast)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Run drives the automatic triggers until ctx is done: one cycle at
// startup, one on every interval tick and one each time connectivity is
// restored.
func (o *Orchestrator) Run(ctx context.Context) {
	transitions := o.monitor.Subscribe()

	_ = o.Sync(ctx, "startup")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = o.Sync(ctx, "interval")
		case online := <-transitions:
			if online {
				_ = o.Sync(ctx, "connectivity restored")
			}
		case <-ctx.Done():
			return
		}
	}
}
