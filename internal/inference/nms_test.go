package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

func box(x1, y1, x2, y2, conf float64, class int) wire.Detection {
	return wire.Detection{X1: x1, Y1: y1, X2: x2, Y2: y2, Confidence: conf, ClassID: class}
}

func TestNMS_SuppressesOverlapping(t *testing.T) {
	dets := []wire.Detection{
		box(0, 0, 0.5, 0.5, 0.9, 0),
		box(0.01, 0.01, 0.51, 0.51, 0.8, 0), // heavily overlaps the first
		box(0.6, 0.6, 0.9, 0.9, 0.7, 0),     // distinct box, same class
	}
	out := NMS(dets, 0.5)
	assert.Len(t, out, 2)
}

func TestNMS_KeepsDistinctClasses(t *testing.T) {
	dets := []wire.Detection{
		box(0, 0, 0.5, 0.5, 0.9, 0),
		box(0, 0, 0.5, 0.5, 0.8, 1), // identical box, different class
	}
	out := NMS(dets, 0.5)
	assert.Len(t, out, 2)
}

func TestNMS_Idempotent(t *testing.T) {
	dets := []wire.Detection{
		box(0, 0, 0.5, 0.5, 0.9, 0),
		box(0.3, 0.3, 0.8, 0.8, 0.6, 0),
		box(0.9, 0.9, 1.0, 1.0, 0.5, 0),
	}
	first := NMS(dets, 0.3)
	second := NMS(first, 0.3)
	assert.ElementsMatch(t, first, second)
}

func TestIoU_Basic(t *testing.T) {
	a := box(0, 0, 1, 1, 1, 0)
	b := box(0.5, 0, 1.5, 1, 1, 0)
	got := iou(a, b)
	assert.InDelta(t, 1.0/3.0, got, 1e-9)
}
