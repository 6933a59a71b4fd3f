package modelpool

import (
	"context"
	"time"
)

// evictor is a suture.Service (spec §1 Ambient Stack: "the Model Pool's
// idle-evictor ... are suture.Services added to a per-server
// *suture.Supervisor") that periodically checks whether the pool has sat
// idle past cfg.IdleTimeout since its last connection closed, and clears
// the cache if so.
type evictor struct {
	pool *Pool
	tick time.Duration
}

// newEvictor constructs the idle-evictor service for pool, polling at
// tick (a fine-grained interval well under IdleTimeout, e.g. 1s).
func newEvictor(pool *Pool, tick time.Duration) *evictor {
	if tick <= 0 {
		tick = time.Second
	}
	return &evictor{pool: pool, tick: tick}
}

// Serve implements suture.Service.
func (e *evictor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.pool.checkIdleExpiry()
		}
	}
}
