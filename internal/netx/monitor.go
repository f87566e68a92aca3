// Package netx tracks server reachability. The engine has no OS-level
// online/offline signal, so connectivity is probed by pinging the API on a
// fixed interval; transitions are fanned out to subscribers.
package netx

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// Pinger is the probe dependency, satisfied by transport.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

const probeTimeout = 3 * time.Second

// Monitor polls the server and reports connectivity state. The zero state
// is offline until the first successful probe.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	log      logging.Logger

	mu     sync.Mutex
	online bool
	subs   []chan bool
}

// NewMonitor returns a Monitor probing via pinger every interval.
func NewMonitor(pinger Pinger, interval time.Duration, log logging.Logger) *Monitor {
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		log:      log.With("component", "netx"),
	}
}

// Online returns the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving connectivity transitions (true on
// restore, false on loss). The channel is buffered; a slow consumer misses
// intermediate flaps but always sees the latest state eventually.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline records a state observation and notifies subscribers on change.
// Exported so callers that already know the outcome of a real request (for
// example a failed save) can feed it back instead of waiting for a probe.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info(ctx, "connectivity changed", "online", online)

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// drop stale transition; subscriber will pick up the next one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.pinger.Ping(pctx)
	if ctx.Err() != nil {
		return
	}
	m.SetOnline(ctx, err == nil)
}
