package connection

const (
	minWindowSize = 2
	maxWindowSize = 16

	// highLatencyThresholdMs / lowLatencyThresholdMs are spec §4.7's
	// "≈100 ms" / "≈30 ms" auto-tuning thresholds.
	highLatencyThresholdMs = 100.0
	lowLatencyThresholdMs  = 30.0

	latencyWindowFrames = 10
)

// windowController tracks a moving average of end-to-end latency over the
// last ~10 frames and the current credit window, auto-tuning per spec
// §4.7: "If avg > high_threshold, decrement window (bounded below by 2)
// ... if avg < low_threshold, increase window (bounded above by 16)."
type windowController struct {
	size int

	samples    [latencyWindowFrames]float64
	sampleLen  int
	sampleNext int

	credits int
}

func newWindowController(initialSize int) *windowController {
	if initialSize < minWindowSize {
		initialSize = minWindowSize
	}
	if initialSize > maxWindowSize {
		initialSize = maxWindowSize
	}
	return &windowController{size: initialSize, credits: initialSize}
}

// Size returns the current window size.
func (w *windowController) Size() int { return w.size }

// TryConsume consumes one credit if available, reporting whether it did
// (spec §4.7: "Frame messages consume one credit. If no credits are
// available, respond BACKPRESSURE_TIMEOUT").
func (w *windowController) TryConsume() bool {
	if w.credits <= 0 {
		return false
	}
	w.credits--
	return true
}

// Release returns one credit. The handler calls it when handleFrame
// returns, which is before the server writes the corresponding Result to
// the connection.
func (w *windowController) Release() {
	if w.credits < w.size {
		w.credits++
	}
}

// Observe records one more end-to-end latency sample (milliseconds) and
// returns (newSize, changed) if the moving average crossed a threshold and
// the window was resized.
func (w *windowController) Observe(latencyMs float64) (int, bool) {
	w.samples[w.sampleNext] = latencyMs
	w.sampleNext = (w.sampleNext + 1) % latencyWindowFrames
	if w.sampleLen < latencyWindowFrames {
		w.sampleLen++
	}

	avg := w.average()
	oldSize := w.size

	switch {
	case avg > highLatencyThresholdMs && w.size > minWindowSize:
		w.size--
	case avg < lowLatencyThresholdMs && w.size < maxWindowSize:
		w.size++
	}

	if w.size != oldSize {
		if w.size > oldSize {
			w.credits++
		} else if w.credits > w.size {
			w.credits = w.size
		}
		return w.size, true
	}
	return w.size, false
}

func (w *windowController) average() float64 {
	if w.sampleLen == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.sampleLen; i++ {
		sum += w.samples[i]
	}
	return sum / float64(w.sampleLen)
}
