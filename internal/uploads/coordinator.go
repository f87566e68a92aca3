// Package uploads moves attachment binaries to the server's staging area
// ahead of the resource saves that reference them. A blob is written to the
// durable store first, so a crash mid-upload loses nothing; the staging
// request carries the client-minted handle, so repeating it after a crash
// is idempotent.
package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/backoff"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
)

const stagePath = "/api/uploads/temp"

// blobRecord is the durable envelope for one staged binary.
type blobRecord struct {
	FileName string `json:"file_name"`
	Caption  string `json:"caption,omitempty"`
	Category string `json:"category,omitempty"`
	Location string `json:"location,omitempty"`
	Data     []byte `json:"data"`
}

// Coordinator stages binaries in the background. One upload is in flight
// per handle at most; staging the same handle twice joins the running
// attempt instead of duplicating it.
type Coordinator struct {
	store  storage.Store
	client transport.Client
	log    logging.Logger
	policy backoff.Policy
	sleep  backoff.SleepFunc

	// OnStaged, when set, is called after a handle reaches the staged
	// state. The engine uses it to re-flush drafts waiting on the upload.
	OnStaged func(handle string)

	mu       sync.Mutex
	states   map[string]models.StageState
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New returns a coordinator over the given store and client.
func New(store storage.Store, client transport.Client, log logging.Logger, policy backoff.Policy) *Coordinator {
	return &Coordinator{
		store:    store,
		client:   client,
		log:      log.With("component", "uploads"),
		policy:   policy,
		sleep:    backoff.Sleep,
		states:   make(map[string]models.StageState),
		inflight: make(map[string]struct{}),
	}
}

// Stage persists the blob durably, mints a handle and starts the staging
// upload in the background. The returned ref is usable in a draft
// immediately; the save path checks State before sending.
func (c *Coordinator) Stage(ctx context.Context, fileName string, blob []byte, ref models.AttachmentRef) (models.AttachmentRef, error) {
	handle := models.NewTempHandle()
	rec := blobRecord{
		FileName: fileName,
		Caption:  ref.Caption,
		Category: ref.Category,
		Location: ref.Location,
		Data:     blob,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return models.AttachmentRef{}, fmt.Errorf("encoding blob record: %w", err)
	}
	key := storage.PrefixBlob + handle
	if err := c.store.Put(ctx, key, raw); err != nil {
		return models.AttachmentRef{}, err
	}

	ref.TempHandle = handle
	ref.LocalBlobKey = key

	c.setState(handle, models.StagePending)
	c.start(handle)
	return ref, nil
}

// Restage rescans the blob namespace and restarts uploads for every binary
// still present, after a process restart. Blobs are deleted only once
// staged, so presence means pending.
func (c *Coordinator) Restage(ctx context.Context) error {
	keys, err := c.store.ListKeys(ctx, storage.PrefixBlob)
	if err != nil {
		return err
	}
	for _, key := range keys {
		handle := key[len(storage.PrefixBlob):]
		c.setState(handle, models.StagePending)
		c.start(handle)
	}
	if len(keys) > 0 {
		c.log.Info(ctx, "restaging pending uploads", "count", len(keys))
	}
	return nil
}

// State returns the lifecycle state for handle. Unknown handles report
// staged: the blob is gone, which only happens after a successful upload.
func (c *Coordinator) State(handle string) models.StageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[handle]; ok {
		return s
	}
	return models.StageDone
}

// Failed returns the handles whose staging exhausted its retries. They
// remain durable and are retried on the next Restage.
func (c *Coordinator) Failed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for h, s := range c.states {
		if s == models.StageFailed {
			out = append(out, h)
		}
	}
	return out
}

// Wait blocks until every background upload started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) setState(handle string, s models.StageState) {
	c.mu.Lock()
	c.states[handle] = s
	c.mu.Unlock()
}

// start launches the upload goroutine unless one is already running for
// this handle.
func (c *Coordinator) start(handle string) {
	c.mu.Lock()
	if _, running := c.inflight[handle]; running {
		c.mu.Unlock()
		return
	}
	c.inflight[handle] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, handle)
			c.mu.Unlock()
		}()
		c.upload(context.Background(), handle)
	}()
}

func (c *Coordinator) upload(ctx context.Context, handle string) {
	key := storage.PrefixBlob + handle
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Error(ctx, "staged blob unreadable", "handle", handle, "error", err)
		c.setState(handle, models.StageFailed)
		return
	}
	var rec blobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Error(ctx, "staged blob corrupt", "handle", handle, "error", err)
		c.setState(handle, models.StageFailed)
		return
	}

	c.setState(handle, models.StageUploading)
	fields := map[string]string{"temp_id": handle}

	for attempt := 0; ; attempt++ {
		body, err := c.client.Upload(ctx, stagePath, fields, rec.FileName, rec.Data)
		if err == nil {
			var resp models.StageResponse
			if uerr := json.Unmarshal(body, &resp); uerr != nil || !resp.Success {
				err = fmt.Errorf("%w: staging response rejected", common.ErrRejected)
			} else {
				if resp.TempID != "" && resp.TempID != handle {
					c.log.Warn(ctx, "staging echoed unexpected handle",
						"sent", handle, "got", resp.TempID)
				}
				c.finish(ctx, handle, key)
				return
			}
		}

		if !common.Retriable(err) || attempt >= c.policy.MaxRetries() {
			c.log.Error(ctx, "staging upload failed", "handle", handle,
				"attempts", attempt+1, "error", err)
			c.setState(handle, models.StageFailed)
			return
		}
		c.log.Debug(ctx, "staging retry", "handle", handle, "attempt", attempt, "error", err)
		if serr := c.sleep(ctx, c.policy.Delay(attempt)); serr != nil {
			c.setState(handle, models.StageFailed)
			return
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, handle, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		// harmless: the next Restage re-uploads and the server dedups
		c.log.Warn(ctx, "staged blob cleanup failed", "handle", handle, "error", err)
	}
	c.setState(handle, models.StageDone)
	c.log.Debug(ctx, "attachment staged", "handle", handle)
	if c.OnStaged != nil {
		c.OnStaged(handle)
	}
}
