// Package autosave drives the save loop of one open draft: edits are
// flushed after a short debounce, a periodic timer catches anything the
// debounce missed, and Close flushes whatever is left. Saves that cannot
// reach the server are handed to the durable mutation queue, so closing
// the editor never loses work.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/backoff"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
	"github.com/dmitrijs2005/fieldsync/internal/queue"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
	"github.com/dmitrijs2005/fieldsync/internal/uploads"
)

// Options tune the scheduler timers. Zero values fall back to the
// defaults the original field app shipped with.
type Options struct {
	DebounceDelay    time.Duration
	PeriodicInterval time.Duration
	Retry            backoff.Policy
}

func (o *Options) applyDefaults() {
	if o.DebounceDelay == 0 {
		o.DebounceDelay = 800 * time.Millisecond
	}
	if o.PeriodicInterval == 0 {
		o.PeriodicInterval = 5 * time.Second
	}
	if len(o.Retry.Delays) == 0 {
		o.Retry = backoff.Default()
	}
}

// Scheduler owns one draft and its save lifecycle. All draft access goes
// through the scheduler; callers never touch the draft concurrently.
type Scheduler struct {
	client  transport.Client
	queue   *queue.MutationQueue
	ids     *reconcile.Map
	uploads *uploads.Coordinator
	monitor *netx.Monitor
	log     logging.Logger
	opts    Options
	sleep   backoff.SleepFunc

	mu           sync.Mutex
	draft        *models.Draft
	debounce     *time.Timer
	saving       bool
	pendingFlush bool
	lastErr      string
	rejectedVer  int64
	closed       bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New binds a scheduler to draft and starts the periodic flush loop.
func New(draft *models.Draft, client transport.Client, q *queue.MutationQueue,
	ids *reconcile.Map, up *uploads.Coordinator, monitor *netx.Monitor,
	log logging.Logger, opts Options) *Scheduler {
	opts.applyDefaults()
	s := &Scheduler{
		client:  client,
		queue:   q,
		ids:     ids,
		uploads: up,
		monitor: monitor,
		log:     log.With("component", "autosave", "draft", draft.ID),
		opts:    opts,
		sleep:   backoff.Sleep,
		draft:   draft,
		stop:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.periodicLoop()
	return s
}

// SetField records one edit and arms the debounce timer.
func (s *Scheduler) SetField(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.draft.SetField(name, value)
	if s.draft.Dirty {
		s.armDebounceLocked()
	}
}

// AddAttachment stages the binary and links it to the draft. The draft can
// be saved right away; the attachment rides along once its upload lands.
func (s *Scheduler) AddAttachment(ctx context.Context, fileName string, blob []byte, ref models.AttachmentRef) (models.AttachmentRef, error) {
	staged, err := s.uploads.Stage(ctx, fileName, blob, ref)
	if err != nil {
		return models.AttachmentRef{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return staged, fmt.Errorf("draft already closed")
	}
	s.draft.AddAttachment(staged)
	s.armDebounceLocked()
	return staged, nil
}

// RemoveAttachment flags the attachment for deletion on the next save.
func (s *Scheduler) RemoveAttachment(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	ok := s.draft.MarkAttachmentDeleted(id)
	if ok {
		s.armDebounceLocked()
	}
	return ok
}

// Flush forces a save cycle now. If one is running it is rerun after the
// current one completes, so the latest edits always reach a flush.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	s.startFlushLocked()
	s.mu.Unlock()
}

// Status returns the current view for the UI layer.
func (s *Scheduler) Status(ctx context.Context) models.SyncStatus {
	pending := 0
	if n, err := s.queue.Len(ctx); err == nil {
		pending = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SyncStatus{
		Dirty:        s.draft.Dirty,
		Saving:       s.saving,
		LastSavedAt:  s.draft.LastSavedAt,
		PendingCount: pending,
		Online:       s.monitor.Online(),
		LastError:    s.lastErr,
	}
}

// DraftID returns the draft's current identifier, which flips from the
// temp id to the permanent one after the first acknowledged save.
func (s *Scheduler) DraftID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ID
}

// Snapshot exposes the draft state for display.
func (s *Scheduler) Snapshot() models.DraftSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Snapshot()
}

// Close stops the timers, runs a final flush for any unsaved edits and
// waits for in-flight work. The draft is unusable afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	if s.draft.Dirty {
		s.startFlushLocked()
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) armDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.opts.DebounceDelay, s.Flush)
}

func (s *Scheduler) periodicLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.draft.Dirty {
				s.startFlushLocked()
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// startFlushLocked begins a save cycle if none is running and there is
// something to save. Content the server has already rejected is not
// re-sent until an edit produces a new version. Callers hold s.mu.
func (s *Scheduler) startFlushLocked() {
	if s.closed {
		return
	}
	if s.saving {
		s.pendingFlush = true
		return
	}
	if !s.draft.Dirty || s.draft.Version == s.rejectedVer {
		return
	}
	s.saving = true
	snap := s.draft.Snapshot()

	s.wg.Add(1)
	go s.runFlush(snap)
}

func (s *Scheduler) runFlush(snap models.DraftSnapshot) {
	defer s.wg.Done()
	ctx := context.Background()

	held, err := s.save(ctx, snap)
	s.finishFlush(ctx, snap, held, err)
}

// finishFlush folds the save outcome back into the draft. A response for a
// snapshot the draft has moved past updates ids only; the dirty flag stays
// set and the newer edits get their own flush.
func (s *Scheduler) finishFlush(ctx context.Context, snap models.DraftSnapshot, held bool, err error) {
	s.mu.Lock()
	s.saving = false

	if err == nil {
		s.lastErr = ""
		if resolved := s.ids.ResolveResource(s.draft.ID); resolved != "" {
			s.log.Info(ctx, "draft id resolved", "temp", s.draft.ID, "permanent", resolved)
			s.draft.ID = resolved
		}
		for i := range s.draft.Attachments {
			ref := &s.draft.Attachments[i]
			if ref.PermanentID == "" {
				if perm := s.ids.ResolveAttachment(ref.TempHandle); perm != "" {
					ref.Promote(perm)
				}
			}
		}
		if s.draft.Version == snap.Version {
			s.draft.PruneDeleted()
			s.draft.LastSavedAt = time.Now().UTC()
			s.draft.Dirty = held // attachments still staging need another pass
		}
	} else {
		s.lastErr = err.Error()
		if errors.Is(err, common.ErrRejected) {
			// identical content would be refused again; wait for an edit
			s.rejectedVer = snap.Version
		}
	}

	rerun := s.pendingFlush || (s.draft.Dirty && s.draft.Version != snap.Version)
	s.pendingFlush = false
	if rerun && !s.closed {
		s.startFlushLocked()
	}
	s.mu.Unlock()
}

// save pushes one snapshot, retrying transient failures on the backoff
// schedule and falling back to the durable queue when the server cannot be
// reached. While the monitor reports offline no network attempt is made at
// all. It returns whether any attachment was held back because its staging
// upload has not landed yet.
func (s *Scheduler) save(ctx context.Context, snap models.DraftSnapshot) (bool, error) {
	s.ids.RewriteSnapshot(&snap)

	req, staged, held := s.buildRequest(snap)
	mut := s.buildMutation(snap, req, staged)

	err := common.ErrOffline
	if s.monitor.Online() {
		for attempt := 0; ; attempt++ {
			err = s.send(ctx, snap, req)
			if err == nil {
				s.monitor.SetOnline(ctx, true)
				return held, nil
			}
			if errors.Is(err, common.ErrOffline) {
				// every retry would fail the same way; queue at once
				s.monitor.SetOnline(ctx, false)
				break
			}
			if !common.Retriable(err) || attempt >= s.opts.Retry.MaxRetries() {
				break
			}
			s.log.Debug(ctx, "save retry", "attempt", attempt, "error", err)
			if serr := s.sleep(ctx, s.opts.Retry.Delay(attempt)); serr != nil {
				break
			}
		}
	}

	if errors.Is(err, common.ErrRejected) {
		// the server refused this content; queueing it would fail forever
		return held, fmt.Errorf("save rejected: %w", err)
	}

	if qerr := s.queue.Enqueue(ctx, mut); qerr != nil {
		return held, fmt.Errorf("save failed and could not be queued: %w", qerr)
	}
	s.log.Info(ctx, "save deferred to mutation queue", "mutation", mut.ID, "cause", err)
	return held, nil
}

// buildRequest converts the snapshot to its wire form. Attachments whose
// staging upload has not finished are held back for a later flush; the
// staged refs that did make it are returned so a queued fallback sends
// the same set.
func (s *Scheduler) buildRequest(snap models.DraftSnapshot) (models.SaveRequest, []models.AttachmentRef, bool) {
	fields, _ := json.Marshal(snap.Fields)
	req := models.SaveRequest{
		MutationID: mutationKeyFor(snap),
		Fields:     fields,
	}
	if !models.IsTempID(snap.ResourceID) {
		req.ID = snap.ResourceID
	}

	var staged []models.AttachmentRef
	held := false
	for _, ref := range snap.Attachments {
		if ref.PermanentID == "" && s.uploads.State(ref.TempHandle) != models.StageDone {
			held = true
			continue
		}
		staged = append(staged, ref)
		req.Attachments = append(req.Attachments, models.WireRef(ref))
	}
	return req, staged, held
}

// buildMutation mirrors the direct-save request into a queueable mutation.
// Only staged refs ride along; a handle the server never saw would get the
// whole mutation rejected on drain.
func (s *Scheduler) buildMutation(snap models.DraftSnapshot, req models.SaveRequest, staged []models.AttachmentRef) *models.Mutation {
	op := models.OpUpdate
	if models.IsTempID(snap.ResourceID) {
		op = models.OpCreate
	}
	mut := models.NewMutation(snap.Kind, snap.ResourceID, op, req.Fields, staged)
	// reuse the flush's key so a queued retry is the same logical save
	mut.ID = req.MutationID
	return mut
}

// mutationKeyFor derives a stable idempotency key for one draft version,
// so the direct save and a queued fallback of the same flush deduplicate.
func mutationKeyFor(snap models.DraftSnapshot) string {
	return fmt.Sprintf("%s-v%d", snap.ResourceID, snap.Version)
}

func (s *Scheduler) send(ctx context.Context, snap models.DraftSnapshot, req models.SaveRequest) error {
	path := "/api/" + string(snap.Kind) + "s/autosave"
	body, err := s.client.Send(ctx, http.MethodPost, path, req)
	if err != nil {
		return err
	}
	var resp models.SaveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: undecodable save response: %v", common.ErrRejected, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", common.ErrRejected, resp.Error)
	}
	s.ids.RecordSaveResponse(ctx, snap.ResourceID, &resp)
	return nil
}
