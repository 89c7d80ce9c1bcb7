// Package leader designates one process to run singleton maintenance
// tasks. The claim is a short-TTL lock key that the leader keeps
// renewing; it is a best-effort designation, not consensus. Tasks must
// stay idempotent because duplicate execution under claim churn is
// possible by design.
package leader

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mshop-dev/authcore/kv"
)

const lockKey = "auth:leader"

// Elector claims and renews the leader lock for this process.
type Elector struct {
	store kv.Store
	id    string
	ttl   time.Duration
	log   *slog.Logger
}

// NewElector builds an elector with a fresh instance id. ttl bounds how
// long a crashed leader blocks a takeover.
func NewElector(store kv.Store, ttl time.Duration, log *slog.Logger) *Elector {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Elector{store: store, id: uuid.NewString(), ttl: ttl, log: log}
}

// TryAcquire claims or renews the lock. Reports whether this process is
// the leader right now. Store trouble reads as "not leading".
func (e *Elector) TryAcquire(ctx context.Context) bool {
	ok, err := e.store.SetNX(ctx, lockKey, e.id, e.ttl)
	if err != nil {
		e.log.Warn("leader claim failed", "error", err)
		return false
	}
	if ok {
		return true
	}

	holder, found, err := e.store.Get(ctx, lockKey)
	if err != nil || !found || holder != e.id {
		return false
	}
	// Still ours: extend the claim.
	if err := e.store.Set(ctx, lockKey, e.id, e.ttl); err != nil {
		e.log.Warn("leader renewal failed", "error", err)
		return false
	}
	return true
}

// Resign releases the lock if this process still holds it.
func (e *Elector) Resign(ctx context.Context) {
	holder, found, err := e.store.Get(ctx, lockKey)
	if err != nil || !found || holder != e.id {
		return
	}
	if err := e.store.Del(ctx, lockKey); err != nil {
		e.log.Warn("leader resign failed", "error", err)
	}
}

// RunEvery executes task on the given cadence, but only on ticks where
// this process holds the leader claim. Blocks until ctx ends.
func (e *Elector) RunEvery(ctx context.Context, every time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Resign(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			if e.TryAcquire(ctx) {
				task(ctx)
			}
		}
	}
}
