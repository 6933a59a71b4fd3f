package inference

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostprocess_EmbeddedNMS(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 640)) // no letterbox padding
	_, lb := Letterbox(src, 640)

	out := RawOutput{
		Shape: []int64{1, 2, 6},
		Data: []float32{
			100, 100, 200, 200, 0.9, 0,
			10, 10, 20, 20, 0.1, 1, // below threshold
		},
	}
	dets, err := Postprocess(out, ConventionEmbeddedNMS, lb, PostprocessParams{
		ConfThreshold: 0.5,
		ClassNames:    []string{"person", "car"},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].ClassName)
	assert.InDelta(t, 100.0/640.0, dets[0].X1, 1e-6)
}

func TestPostprocess_RawConventionWithSigmoid(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 640))
	_, lb := Letterbox(src, 640)

	// One candidate box, raw (unbounded) class logits -> needs sigmoid.
	out := RawOutput{
		Shape: []int64{1, 5, 1}, // 4 + 1 class, K=1
		Data: []float32{
			320, // xc
			320, // yc
			100, // w
			100, // h
			5.0, // class logit, out of [0,1] so sigmoid applies
		},
	}
	dets, err := Postprocess(out, ConventionRaw, lb, PostprocessParams{
		ConfThreshold: 0.5,
		NMSIoU:        0.6,
		ClassNames:    []string{"person"},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].ClassName)
	assert.Greater(t, dets[0].Confidence, 0.9)
}

func TestPostprocess_RawConventionTransposed(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 640))
	_, lb := Letterbox(src, 640)

	// Shape (1, K=2, 4+C=5): transposed relative to (1, 4+C, K). Candidate 0
	// clears the threshold, candidate 1 doesn't.
	out := RawOutput{
		Shape: []int64{1, 2, 5},
		Data: []float32{
			320, 320, 100, 100, 0.9, // candidate 0: xc,yc,w,h,score
			10, 10, 20, 20, 0.05, // candidate 1: below threshold
		},
	}
	dets, err := Postprocess(out, ConventionRaw, lb, PostprocessParams{
		ConfThreshold: 0.5,
		NMSIoU:        0.6,
		ClassNames:    []string{"person"},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].ClassName)
	assert.InDelta(t, (320.0-50.0)/640.0, dets[0].X1, 1e-6)
}

func TestPostprocess_ClassFilterDropsOutOfFilter(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 640))
	_, lb := Letterbox(src, 640)

	out := RawOutput{
		Shape: []int64{1, 1, 6},
		Data:  []float32{100, 100, 200, 200, 0.9, 3},
	}
	dets, err := Postprocess(out, ConventionEmbeddedNMS, lb, PostprocessParams{
		ConfThreshold: 0.1,
		ClassesFilter: map[int]bool{0: true, 1: true},
		ClassNames:    []string{"a", "b", "c", "d"},
	})
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestPostprocess_EveryDetectionIsNormalized(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	_, lb := Letterbox(src, 640)

	out := RawOutput{
		Shape: []int64{1, 1, 6},
		Data:  []float32{0, 0, 640, 640, 0.9, 0},
	}
	dets, err := Postprocess(out, ConventionEmbeddedNMS, lb, PostprocessParams{
		ConfThreshold: 0.1,
		ClassNames:    []string{"person"},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	d := dets[0]
	assert.GreaterOrEqual(t, d.X1, 0.0)
	assert.LessOrEqual(t, d.X2, 1.0)
	assert.Less(t, d.X1, d.X2)
	assert.Less(t, d.Y1, d.Y2)
}
