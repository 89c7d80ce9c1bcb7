package leader

import (
	"context"
	"log/slog"
	"time"

	"github.com/mshop-dev/authcore/kv"
)

// TokenExpiry reads the embedded expiry out of a stored token value.
type TokenExpiry interface {
	ExpiryOf(raw string) (time.Time, error)
}

// Sweeper removes token keys whose embedded expiry has passed. The
// store's own TTLs normally handle this; the sweep catches entries
// whose TTL drifted from the token lifetime (clock skew, manual
// writes). Deleting an already-deleted key is a no-op, so concurrent
// sweeps from a contested leader claim cannot corrupt anything.
type Sweeper struct {
	store  kv.Store
	expiry TokenExpiry
	log    *slog.Logger
}

func NewSweeper(store kv.Store, expiry TokenExpiry, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, expiry: expiry, log: log}
}

// Sweep scans every token key and deletes the expired ones. Returns the
// number of keys removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, kv.TokenKeyPattern())
	if err != nil {
		return 0, err
	}

	removed := 0
	now := time.Now()
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return removed, err
		}
		if !ok {
			continue
		}

		exp, err := s.expiry.ExpiryOf(raw)
		if err != nil {
			// Not a token we could ever validate; clear it out.
			s.log.Warn("removing unreadable token entry", "key", key, "error", err)
		} else if exp.After(now) {
			continue
		}

		if err := s.store.Del(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("expired token sweep finished", "removed", removed)
	}
	return removed, nil
}

// Task adapts the sweep for Elector.RunEvery.
func (s *Sweeper) Task() func(context.Context) {
	return func(ctx context.Context) {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("token sweep failed", "error", err)
		}
	}
}
