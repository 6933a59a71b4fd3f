package session

// fpsEstimator maintains a rolling estimate of the incoming frame rate from
// observed arrival timestamps. It is used only in the frame_id/fps t_rel
// fallback, where an available estimate takes the place of the configured
// fps; meta.json.video.fps records the configured fps (spec
// §3.6 supplement; recovered from
// original_source/services/worker-ai/src/pipeline/session_service.py,
// which tracks an equivalent estimate informally via frame arrival timing).
type fpsEstimator struct {
	lastMonoNs *int64
	lastUTCNs  *int64
	emaFPS     float64
	hasEMA     bool
}

const fpsEstimatorAlpha = 0.2

// Observe records one more frame arrival. Prefers monotonic deltas.
func (e *fpsEstimator) Observe(monoNs, utcNs *int64) {
	var deltaS float64
	switch {
	case monoNs != nil && e.lastMonoNs != nil:
		deltaS = float64(*monoNs-*e.lastMonoNs) / 1e9
	case utcNs != nil && e.lastUTCNs != nil:
		deltaS = float64(*utcNs-*e.lastUTCNs) / 1e9
	default:
		deltaS = 0
	}

	if monoNs != nil {
		e.lastMonoNs = monoNs
	}
	if utcNs != nil {
		e.lastUTCNs = utcNs
	}

	if deltaS <= 0 {
		return
	}
	instFPS := 1.0 / deltaS
	if !e.hasEMA {
		e.emaFPS = instFPS
		e.hasEMA = true
		return
	}
	e.emaFPS = fpsEstimatorAlpha*instFPS + (1-fpsEstimatorAlpha)*e.emaFPS
}

// Estimate returns the current fps estimate, or 0 if none is available yet.
func (e *fpsEstimator) Estimate() float64 {
	if !e.hasEMA {
		return 0
	}
	return e.emaFPS
}
