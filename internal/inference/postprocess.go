package inference

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

var errUnknownConvention = eris.New("inference: unknown output convention")

// Convention distinguishes the two supported model output layouts (spec
// §4.4 step 3).
type Convention int

const (
	// ConventionEmbeddedNMS: output shape (1, N, 6), columns
	// [x1,y1,x2,y2,conf,class_id] already in letterbox pixel coordinates.
	ConventionEmbeddedNMS Convention = iota
	// ConventionRaw: output shape (1, 4+C, K) or its transpose; first four
	// rows are xc,yc,w,h, the rest are per-class scores.
	ConventionRaw
)

// RawOutput is the tensor handed back by the ONNX runtime for the single
// output this pipeline expects (LoadONNXModel rejects models that do not
// have exactly one input and one output).
type RawOutput struct {
	Data  []float32
	Shape []int64 // as reported by the runtime, including the batch dim
}

// PostprocessParams bundles the per-request thresholds spec §4.4 needs.
type PostprocessParams struct {
	ConfThreshold float64
	NMSIoU        float64
	ClassesFilter map[int]bool // nil or empty => accept all classes
	ClassNames    []string     // index = class id
}

// Postprocess runs confidence thresholding, optional class filtering,
// xywh→xyxy conversion, letterbox undo, clipping, degenerate-box removal,
// and (for ConventionRaw) greedy per-class NMS — then normalizes every
// surviving box to [0,1]² (spec §4.4 steps 4-6).
func Postprocess(out RawOutput, conv Convention, lb LetterboxInfo, p PostprocessParams) ([]wire.Detection, error) {
	var candidates []wire.Detection

	switch conv {
	case ConventionEmbeddedNMS:
		candidates = parseEmbeddedNMS(out, p)
	case ConventionRaw:
		candidates = parseRaw(out, p)
	default:
		return nil, errUnknownConvention
	}

	// Undo letterbox + clip + normalize, drop degenerate boxes.
	result := make([]wire.Detection, 0, len(candidates))
	for _, d := range candidates {
		x1, y1, x2, y2 := lb.UndoLetterbox(d.X1, d.Y1, d.X2, d.Y2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		d.X1, d.Y1, d.X2, d.Y2 = x1, y1, x2, y2
		result = append(result, d)
	}

	if conv == ConventionRaw {
		result = NMS(result, p.NMSIoU)
	}

	for i := range result {
		result[i].X1 /= float64(lb.SrcW)
		result[i].X2 /= float64(lb.SrcW)
		result[i].Y1 /= float64(lb.SrcH)
		result[i].Y2 /= float64(lb.SrcH)
		if idx := result[i].ClassID; idx >= 0 && idx < len(p.ClassNames) {
			result[i].ClassName = p.ClassNames[idx]
		}
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Confidence > result[j].Confidence })
	return result, nil
}

func parseEmbeddedNMS(out RawOutput, p PostprocessParams) []wire.Detection {
	n := int(out.Shape[len(out.Shape)-2])
	cols := int(out.Shape[len(out.Shape)-1])
	if cols < 6 {
		return nil
	}
	var dets []wire.Detection
	for i := 0; i < n; i++ {
		base := i * cols
		conf := float64(out.Data[base+4])
		if conf < p.ConfThreshold {
			continue
		}
		classID := int(out.Data[base+5] + 0.5)
		if len(p.ClassesFilter) > 0 && !p.ClassesFilter[classID] {
			continue
		}
		dets = append(dets, wire.Detection{
			X1:         float64(out.Data[base]),
			Y1:         float64(out.Data[base+1]),
			X2:         float64(out.Data[base+2]),
			Y2:         float64(out.Data[base+3]),
			Confidence: conf,
			ClassID:    classID,
		})
	}
	return dets
}

// parseRaw handles (1, 4+C, K) and its transpose (1, K, 4+C): first 4 rows
// (or columns, once transposed) xywh, remaining C rows class scores,
// applying sigmoid if scores fall outside [0,1] (spec §4.4 step 3: "or its
// transpose"). Orientation is decided by comparing the last two dims
// against len(ClassNames)+4, since that's the only reliable signal — both
// axes are otherwise just integers.
func parseRaw(out RawOutput, p PostprocessParams) []wire.Detection {
	if len(out.Shape) < 2 {
		return nil
	}
	dim1 := int(out.Shape[len(out.Shape)-2]) // candidate rows (4+C) or K
	dim2 := int(out.Shape[len(out.Shape)-1]) // candidate K or rows (4+C)

	data := out.Data
	rows, k := dim1, dim2
	if expected := len(p.ClassNames) + 4; expected > 4 && dim2 == expected && dim1 != expected {
		// (1, K, 4+C): transpose into the (4+C, K) layout the rest of this
		// function indexes against.
		rows, k = dim2, dim1
		data = transpose2D(out.Data, dim1, dim2)
	}

	numClasses := rows - 4
	if numClasses <= 0 {
		return nil
	}

	needsSigmoid := false
	for c := 0; c < numClasses && !needsSigmoid; c++ {
		for i := 0; i < k; i++ {
			v := data[(4+c)*k+i]
			if v < 0 || v > 1 {
				needsSigmoid = true
				break
			}
		}
	}

	var dets []wire.Detection
	for i := 0; i < k; i++ {
		bestClass := -1
		bestScore := float64(-1)
		for c := 0; c < numClasses; c++ {
			score := float64(data[(4+c)*k+i])
			if needsSigmoid {
				score = sigmoid(score)
			}
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < p.ConfThreshold {
			continue
		}
		if len(p.ClassesFilter) > 0 && !p.ClassesFilter[bestClass] {
			continue
		}

		xc := float64(data[0*k+i])
		yc := float64(data[1*k+i])
		w := float64(data[2*k+i])
		h := float64(data[3*k+i])

		dets = append(dets, wire.Detection{
			X1:         xc - w/2,
			Y1:         yc - h/2,
			X2:         xc + w/2,
			Y2:         yc + h/2,
			Confidence: bestScore,
			ClassID:    bestClass,
		})
	}
	return dets
}

// transpose2D converts row-major data shaped (rows, cols) into row-major
// data shaped (cols, rows).
func transpose2D(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
