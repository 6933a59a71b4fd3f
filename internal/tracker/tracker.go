package tracker

// Config holds the per-connection tuning from spec §4.5.
type Config struct {
	MatchThresh float64
	MaxAge      int
	MinHits     int
	UseKalman   bool
	Kalman      KalmanConfig
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		MatchThresh: 0.3,
		MaxAge:      30,
		MinHits:     3,
		UseKalman:   true,
		Kalman:      DefaultKalmanConfig(),
	}
}

// Detection is the minimal per-frame detection input the tracker consumes,
// decoupled from the wire package so this package stays independently
// testable (spec §4.5 operates purely on class/box/confidence tuples).
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	BBox       BBox
}

// Tracker is a per-connection IoU tracker with optional Kalman smoothing,
// reset whenever a new session begins (spec §4.5 "Reset semantics").
// Grounded on original_source/services/worker-ai/src/tracking/botsort.py's
// update loop, re-expressed in Go without any external tracking library
// since the corpus does not carry one.
type Tracker struct {
	cfg        Config
	tracks     []*Track
	nextID     int
	frameIndex int
}

// New creates a Tracker with cfg. Pass DefaultConfig() for spec defaults.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, nextID: 1}
}

// Reset clears all tracks and counters, per spec §4.5 "on new session, the
// tracker is cleared and frame_index and next_id reset."
func (t *Tracker) Reset() {
	t.tracks = nil
	t.nextID = 1
	t.frameIndex = 0
}

// Tracks returns the current live (non-deleted) tracks.
func (t *Tracker) Tracks() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.State != StateDeleted {
			out = append(out, tr)
		}
	}
	return out
}

// Update advances the tracker by one frame: predict, associate, update
// matched, spawn new tracks, age unmatched, evict stale (spec §4.5 steps 1-6).
func (t *Tracker) Update(dets []Detection) []*Track {
	t.frameIndex++

	for _, tr := range t.tracks {
		if tr.State == StateDeleted {
			continue
		}
		tr.Age++
		if t.cfg.UseKalman && tr.Kalman.Active {
			tr.Kalman.Predict(t.cfg.Kalman)
		}
	}

	matchedTrack := make(map[int]bool, len(t.tracks))
	matchedDet := make(map[int]bool, len(dets))

	for di, det := range dets {
		best := -1
		bestIoU := 0.0
		for ti, tr := range t.tracks {
			if tr.State == StateDeleted || matchedTrack[ti] {
				continue
			}
			if tr.ClassID != det.ClassID {
				continue
			}
			v := IoU(tr.EffectiveBBox(), det.BBox)
			if v >= t.cfg.MatchThresh && v > bestIoU {
				bestIoU = v
				best = ti
			}
		}
		if best >= 0 {
			matchedTrack[best] = true
			matchedDet[di] = true
			t.updateMatched(t.tracks[best], det)
		}
	}

	for di, det := range dets {
		if matchedDet[di] {
			continue
		}
		t.spawn(det)
	}

	for ti, tr := range t.tracks {
		if tr.State == StateDeleted || matchedTrack[ti] {
			continue
		}
		t.ageUnmatched(tr)
	}

	t.evict()

	return t.Tracks()
}

func (t *Tracker) updateMatched(tr *Track, det Detection) {
	tr.BBox = det.BBox
	tr.Confidence = det.Confidence
	if t.cfg.UseKalman && tr.Kalman.Active {
		tr.Kalman.Update(det.BBox, t.cfg.Kalman)
	} else {
		tr.Kalman.Smoothed = det.BBox
	}
	tr.Hits++
	tr.HitStreak++
	tr.TimeSinceUpdate = 0
	tr.LastSeenFrame = t.frameIndex
	if tr.Hits >= t.cfg.MinHits {
		tr.State = StateConfirmed
	}
}

func (t *Tracker) spawn(det Detection) {
	tr := &Track{
		ID:            t.nextID,
		ClassID:       det.ClassID,
		ClassName:     det.ClassName,
		Confidence:    det.Confidence,
		BBox:          det.BBox,
		Hits:          1,
		HitStreak:     1,
		State:         StateTentative,
		LastSeenFrame: t.frameIndex,
	}
	t.nextID++
	if t.cfg.UseKalman {
		tr.Kalman = NewKalmanState(det.BBox)
	}
	t.tracks = append(t.tracks, tr)
}

func (t *Tracker) ageUnmatched(tr *Track) {
	tr.HitStreak = 0
	tr.TimeSinceUpdate = t.frameIndex - tr.LastSeenFrame
	if tr.TimeSinceUpdate > t.cfg.MaxAge/3 {
		tr.State = StateTentative
	}
}

func (t *Tracker) evict() {
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.State != StateDeleted && t.frameIndex-tr.LastSeenFrame > t.cfg.MaxAge {
			tr.State = StateDeleted
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept
}
