// Package tracker implements the per-connection IoU multi-object tracker
// with optional Kalman smoothing, spec §4.5. State lives entirely in
// memory for the lifetime of one connection; it is reset whenever a new
// session begins (spec §4.5 "Reset semantics").
package tracker

// State is a Track's lifecycle stage (spec §3 Track.state).
type State int

const (
	StateTentative State = iota
	StateConfirmed
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateDeleted:
		return "deleted"
	default:
		return "tentative"
	}
}

// BBox is an axis-aligned box in normalized [0,1]² coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// KalmanState is the optional Kalman-filter-derived state held by a Track
// when tracker.Config.UseKalman is enabled. Modeled as a discriminated
// struct held by value rather than an interface (spec §9 Design Notes:
// "Optional Kalman state on Track → a tagged variant ... held by value")
// since there is no sum-type or variant library anywhere in the retrieved
// corpus to reach for instead.
type KalmanState struct {
	Active bool

	// X is the 8-D state vector [cx,cy,w,h,vx,vy,vw,vh].
	X [8]float64
	// P is the 8x8 state covariance, row-major.
	P [8][8]float64

	Predicted BBox
	Smoothed  BBox
	Velocity  [2]float64 // (vx, vy) in normalized units/frame
}

// Track is one tracked object, either plain IoU-only (Kalman.Active ==
// false) or Kalman-smoothed.
type Track struct {
	ID            int
	ClassID       int
	ClassName     string
	Confidence    float64
	BBox          BBox // raw, last-associated detection box, normalized

	Kalman KalmanState

	Age             int
	Hits            int
	HitStreak       int
	TimeSinceUpdate int
	State           State
	LastSeenFrame   int
}

// EffectiveBBox returns the box callers should use for association and
// reporting: the Kalman prediction if active, otherwise the raw box (spec
// §4.5 step 2: "its predicted bbox (or raw bbox if no KF)").
func (t *Track) EffectiveBBox() BBox {
	if t.Kalman.Active {
		return t.Kalman.Predicted
	}
	return t.BBox
}
