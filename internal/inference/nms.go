package inference

import (
	"sort"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

// NMS runs greedy per-class non-maximum suppression at the given IoU
// threshold (spec §4.4 step 5): sort by confidence descending, keep the
// top box, suppress others of the same class with IoU above threshold,
// repeat. Ties in sort order are broken by original index, giving a
// deterministic, idempotent result (spec §8: "applying NMS to its own
// output with the same threshold returns the same set").
func NMS(dets []wire.Detection, iouThreshold float64) []wire.Detection {
	if len(dets) == 0 {
		return dets
	}

	byClass := make(map[int][]int) // classID -> indices into dets
	for i, d := range dets {
		byClass[d.ClassID] = append(byClass[d.ClassID], i)
	}

	var keep []int
	for _, idxs := range byClass {
		sort.SliceStable(idxs, func(a, b int) bool {
			ca, cb := dets[idxs[a]].Confidence, dets[idxs[b]].Confidence
			if ca != cb {
				return ca > cb
			}
			return idxs[a] < idxs[b]
		})

		suppressed := make(map[int]bool)
		for i, idxI := range idxs {
			if suppressed[idxI] {
				continue
			}
			keep = append(keep, idxI)
			for j := i + 1; j < len(idxs); j++ {
				idxJ := idxs[j]
				if suppressed[idxJ] {
					continue
				}
				if iou(dets[idxI], dets[idxJ]) > iouThreshold {
					suppressed[idxJ] = true
				}
			}
		}
	}

	sort.Ints(keep)
	out := make([]wire.Detection, 0, len(keep))
	for _, idx := range keep {
		out = append(out, dets[idx])
	}
	return out
}

// iou computes intersection-over-union between two axis-aligned boxes.
func iou(a, b wire.Detection) float64 {
	ix1 := maxFloat(a.X1, b.X1)
	iy1 := maxFloat(a.Y1, b.Y1)
	ix2 := minFloat(a.X2, b.X2)
	iy2 := minFloat(a.Y2, b.Y2)

	iw := maxFloat(0, ix2-ix1)
	ih := maxFloat(0, iy2-iy1)
	interArea := iw * ih
	if interArea <= 0 {
		return 0
	}

	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
