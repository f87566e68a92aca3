// Package engine assembles the sync machinery into one object the shell
// can own: durable store, mutation queue, upload coordinator, id
// reconciliation, connectivity monitor and the sync orchestrator.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/autosave"
	"github.com/dmitrijs2005/fieldsync/internal/cache"
	"github.com/dmitrijs2005/fieldsync/internal/config"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
	"github.com/dmitrijs2005/fieldsync/internal/queue"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
	"github.com/dmitrijs2005/fieldsync/internal/syncer"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
	"github.com/dmitrijs2005/fieldsync/internal/uploads"
)

// SyncContext owns every component of the offline sync engine for one
// session. Construct it once at startup and share it; all components are
// safe for concurrent use.
type SyncContext struct {
	cfg *config.Config
	log logging.Logger
	db  *sql.DB

	Store   storage.Store
	Queue   *queue.MutationQueue
	Cache   *cache.Cache
	IDs     *reconcile.Map
	Uploads *uploads.Coordinator
	Monitor *netx.Monitor
	Syncer  *syncer.Orchestrator
	Auth    auth.Service
	Client  transport.Client

	mu         sync.Mutex
	schedulers []*autosave.Scheduler
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New opens the local database, runs migrations and wires the engine.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*SyncContext, error) {
	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	store := storage.NewSQLiteStore(db)
	client := transport.NewHTTPClient(cfg.APIBaseURL, cfg.RequestTimeout)

	q, err := queue.New(ctx, store, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SyncContext{
		cfg:     cfg,
		log:     log,
		db:      db,
		Store:   store,
		Queue:   q,
		Cache:   cache.New(store),
		IDs:     reconcile.NewMap(log),
		Uploads: uploads.New(store, client, log, cfg.RetryPolicy()),
		Monitor: netx.NewMonitor(client, cfg.OnlineCheckInterval, log),
		Auth:    auth.New(client, store),
		Client:  client,
	}
	s.Syncer = syncer.New(q, client, s.Cache, store, s.IDs, s.Monitor,
		cfg.SyncInterval, log)

	// a landed staging upload unblocks any draft holding that attachment
	s.Uploads.OnStaged = func(string) { s.flushAll() }
	return s, nil
}

// Start launches the background loops: connectivity probing, the periodic
// sync schedule and re-staging of uploads left over from a previous run.
// It returns immediately; loops stop when Close is called.
func (s *SyncContext) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.Uploads.Restage(ctx); err != nil {
		s.log.Warn(ctx, "restage failed", "error", err)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Monitor.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Syncer.Run(ctx)
	}()
}

// NewAutosave binds an autosave scheduler to draft using the configured
// timers and registers it with the engine.
func (s *SyncContext) NewAutosave(draft *models.Draft) *autosave.Scheduler {
	sched := autosave.New(draft, s.Client, s.Queue, s.IDs, s.Uploads,
		s.Monitor, s.log, autosave.Options{
			DebounceDelay:    s.cfg.DebounceDelay,
			PeriodicInterval: s.cfg.PeriodicSaveInterval,
			Retry:            s.cfg.RetryPolicy(),
		})

	s.mu.Lock()
	s.schedulers = append(s.schedulers, sched)
	s.mu.Unlock()
	return sched
}

// CloseAutosave closes sched and drops it from the registry, so staging
// callbacks no longer reach it.
func (s *SyncContext) CloseAutosave(sched *autosave.Scheduler) {
	sched.Close()

	s.mu.Lock()
	for i, candidate := range s.schedulers {
		if candidate == sched {
			s.schedulers = append(s.schedulers[:i], s.schedulers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *SyncContext) flushAll() {
	s.mu.Lock()
	scheds := make([]*autosave.Scheduler, len(s.schedulers))
	copy(scheds, s.schedulers)
	s.mu.Unlock()

	for _, sched := range scheds {
		sched.Flush()
	}
}

// Close stops the background loops, closes open schedulers and releases
// the database and transport.
func (s *SyncContext) Close() error {
	s.mu.Lock()
	scheds := s.schedulers
	s.schedulers = nil
	s.mu.Unlock()
	for _, sched := range scheds {
		sched.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Uploads.Wait()

	_ = s.Client.Close()
	return s.db.Close()
}
