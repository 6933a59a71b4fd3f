package connection

import (
	"context"
	"time"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

// loadKeepAliveInterval is spec §4.7's "emits Heartbeat every ~2s until the
// load completes."
const loadKeepAliveInterval = 2 * time.Second

// runLoadKeepAlive emits a Heartbeat onto out every loadKeepAliveInterval
// until ctx is cancelled (spec §4.7 LOADING keep-alive task; recovered
// from original_source/services/worker-ai/src/server/heartbeat.py, whose
// asyncio.Event-based cancellation we mirror with a context.CancelFunc
// captured alongside the load task — cancelling it stops the keep-alive
// and makes the handler's Pool.Load call return; the pool's background
// loader is not interrupted and still caches the model when it finishes).
func runLoadKeepAlive(ctx context.Context, out chan<- *wire.Envelope, framesRx, framesTx func() uint64) {
	ticker := time.NewTicker(loadKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := wire.NewHeartbeatEnvelope(wire.Heartbeat{
				FramesRx: framesRx(),
				FramesTx: framesTx(),
			})
			select {
			case out <- hb:
			case <-ctx.Done():
				return
			}
		}
	}
}
