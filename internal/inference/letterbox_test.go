package inference

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetterbox_PreservesAspectAndPads(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	dst, info := Letterbox(src, 640)

	assert.Equal(t, 640, dst.Bounds().Dx())
	assert.Equal(t, 640, dst.Bounds().Dy())
	assert.InDelta(t, 640.0/1280.0, info.Scale, 1e-9)
	assert.InDelta(t, 0, info.PadW, 1e-9)
	assert.Greater(t, info.PadH, 0.0)
}

func TestUndoLetterbox_RoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	_, info := Letterbox(src, 640)

	// A box covering the whole letterboxed square should map back close to
	// the full original image after undo + clip.
	x1, y1, x2, y2 := info.UndoLetterbox(0, 0, 640, 640)
	assert.InDelta(t, 0, x1, 1e-6)
	assert.InDelta(t, 0, y1, 1e-6)
	assert.InDelta(t, 1280, x2, 1.0)
	assert.InDelta(t, 720, y2, 1.0)
}
