package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bookstore/pkg/clientstore"
	"bookstore/services/storefront/internal/cart"
	"bookstore/services/storefront/internal/catalog"
	"bookstore/services/storefront/internal/gate"
	"bookstore/services/storefront/internal/session"
)

const (
	defaultGuestIdle   = 2 * time.Minute
	defaultMaxVisitors = 10000
)

// visitor bundles the stores bound to one browser. The session user and the
// catalog list live only here; tokens and cart items live in storage.
type visitor struct {
	id       string
	storage  clientstore.Storage
	session  *session.Store
	catalog  *catalog.View
	cart     *cart.Store
	lastSeen time.Time
}

type visitorFactory func(id string, storage clientstore.Storage) *visitor

// registry keeps mounted visitors in memory and evicts idle ones. An evicted
// visitor is remounted from storage on its next request. Visitors without an
// authenticated session expire after guestIdle instead of idle, and at most
// maxVisitors are mounted at once; mounting past the cap drops the least
// recently seen visitor.
type registry struct {
	backend      clientstore.Backend
	build        visitorFactory
	idle         time.Duration
	guestIdle    time.Duration
	maxVisitors  int
	checkTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newRegistry(backend clientstore.Backend, build visitorFactory, idle, checkTimeout time.Duration) *registry {
	guestIdle := defaultGuestIdle
	if idle < guestIdle {
		guestIdle = idle
	}
	return &registry{
		backend:      backend,
		build:        build,
		idle:         idle,
		guestIdle:    guestIdle,
		maxVisitors:  defaultMaxVisitors,
		checkTimeout: checkTimeout,
		now:          time.Now,
		visitors:     make(map[string]*visitor),
	}
}

// get returns the visitor for id, mounting it on first use. Mounting starts
// the session restore in the background; the gate waits for it.
func (r *registry) get(id string) (*visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.visitors[id]; ok {
		v.lastSeen = r.now()
		return v, nil
	}
	storage, err := r.backend.Namespace(id)
	if err != nil {
		return nil, err
	}
	if r.maxVisitors > 0 && len(r.visitors) >= r.maxVisitors {
		r.sweepLocked()
		for len(r.visitors) >= r.maxVisitors {
			r.evictOldestLocked()
		}
	}
	v := r.build(id, storage)
	v.lastSeen = r.now()
	r.visitors[id] = v
	go r.restore(v)
	return v, nil
}

func (r *registry) restore(v *visitor) {
	ctx, cancel := context.WithTimeout(context.Background(), r.checkTimeout)
	defer cancel()
	if err := v.session.CheckSession(ctx); err != nil {
		slog.Warn("restore session failed", "visitor_id", v.id, "err", err)
		return
	}
	slog.Debug("session restored", "visitor_id", v.id, "state", v.session.State().String())
}

// sweep drops visitors idle for longer than their timeout.
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *registry) sweepLocked() int {
	now := r.now()
	evicted := 0
	for id, v := range r.visitors {
		if v.lastSeen.Before(now.Add(-r.idleFor(v))) {
			delete(r.visitors, id)
			evicted++
		}
	}
	return evicted
}

func (r *registry) idleFor(v *visitor) time.Duration {
	if v.session.State() == gate.Authenticated {
		return r.idle
	}
	return r.guestIdle
}

func (r *registry) evictOldestLocked() {
	oldestID := ""
	var oldest time.Time
	for id, v := range r.visitors {
		if oldestID == "" || v.lastSeen.Before(oldest) {
			oldestID, oldest = id, v.lastSeen
		}
	}
	if oldestID == "" {
		return
	}
	delete(r.visitors, oldestID)
	slog.Debug("visitor registry full, evicted oldest", "visitor_id", oldestID)
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// run sweeps periodically until ctx is done.
func (r *registry) run(ctx context.Context) error {
	interval := min(r.idle, r.guestIdle) / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				slog.Debug("evicted idle visitors", "count", n)
			}
		}
	}
}
