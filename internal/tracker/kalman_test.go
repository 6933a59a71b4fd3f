package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKalmanState_InitializesFromBox(t *testing.T) {
	box := BBox{X1: 0.1, Y1: 0.2, X2: 0.3, Y2: 0.4}
	ks := NewKalmanState(box)
	require.True(t, ks.Active)
	assert.InDelta(t, 0.2, ks.X[0], 1e-9) // cx
	assert.InDelta(t, 0.3, ks.X[1], 1e-9) // cy
	assert.InDelta(t, 0.2, ks.X[2], 1e-9) // w
	assert.InDelta(t, 0.2, ks.X[3], 1e-9) // h
}

func TestKalmanState_PredictAdvancesByVelocity(t *testing.T) {
	ks := NewKalmanState(BBox{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2})
	ks.X[4] = 0.01 // vx
	ks.X[5] = 0.02 // vy
	cfg := DefaultKalmanConfig()

	ks.Predict(cfg)

	assert.InDelta(t, 0.01, ks.Predicted.X1-0.1, 1e-9)
	assert.InDelta(t, 0.02, ks.Predicted.Y1-0.1, 1e-9)
}

func TestKalmanState_UpdateMovesTowardMeasurement(t *testing.T) {
	ks := NewKalmanState(BBox{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2})
	cfg := DefaultKalmanConfig()
	ks.Predict(cfg)

	measurement := BBox{X1: 0.15, Y1: 0.15, X2: 0.25, Y2: 0.25}
	ks.Update(measurement, cfg)

	// The smoothed box should move toward (but not necessarily exactly
	// reach) the new measurement from its prior position.
	assert.Greater(t, ks.Smoothed.X1, 0.1)
	assert.LessOrEqual(t, ks.Smoothed.X1, 0.16)
}

func TestKalmanState_UpdateClampsToUnitRange(t *testing.T) {
	ks := NewKalmanState(BBox{X1: 0, Y1: 0, X2: 0.01, Y2: 0.01})
	cfg := DefaultKalmanConfig()
	for i := 0; i < 50; i++ {
		ks.Predict(cfg)
		ks.Update(BBox{X1: -10, Y1: -10, X2: -9.9, Y2: -9.9}, cfg)
	}
	assert.GreaterOrEqual(t, ks.Smoothed.X1, 0.0)
	assert.LessOrEqual(t, ks.Smoothed.X1, 1.0)
}

func TestKalmanState_InactiveIsNoop(t *testing.T) {
	var ks KalmanState
	ks.Predict(DefaultKalmanConfig())
	ks.Update(BBox{X1: 1, Y1: 1, X2: 2, Y2: 2}, DefaultKalmanConfig())
	assert.Equal(t, [8]float64{}, ks.X)
}

func TestInvert4_IdentityIsSelfInverse(t *testing.T) {
	var id [4][4]float64
	for i := 0; i < 4; i++ {
		id[i][i] = 1
	}
	inv, ok := invert4(id)
	require.True(t, ok)
	assert.Equal(t, id, inv)
}

func TestInvert4_SingularReturnsFalse(t *testing.T) {
	var zero [4][4]float64
	_, ok := invert4(zero)
	assert.False(t, ok)
}
