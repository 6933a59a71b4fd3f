// Package inference implements the decode→preprocess→infer→postprocess→NMS
// pipeline of spec §4.4: letterbox resize, tensor preparation, the two
// supported output conventions, confidence/class filtering, and per-class
// greedy NMS.
package inference

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// LetterboxInfo records the transform applied so postprocess can undo it.
type LetterboxInfo struct {
	Scale float64
	PadW  float64
	PadH  float64
	SrcW  int
	SrcH  int
}

// neutralGray is the padding color for letterboxing (spec §4.4 step 1:
// "pad to SxS with neutral-gray (value 114)").
var neutralGray = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox resizes src preserving aspect ratio to fit within an SxS
// square, then pads with neutral gray to exactly SxS.
func Letterbox(src *image.RGBA, size int) (*image.RGBA, LetterboxInfo) {
	srcW, srcH := src.Bounds().Dx(), src.Bounds().Dy()
	scale := minFloat(float64(size)/float64(srcW), float64(size)/float64(srcH))

	newW := int(float64(srcW)*scale + 0.5)
	newH := int(float64(srcH)*scale + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	padW := float64(size-newW) / 2
	padH := float64(size-newH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: neutralGray}, image.Point{}, draw.Src)

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.ApproxBiLinear.Scale(resized, resized.Bounds(), src, src.Bounds(), xdraw.Over, nil)

	offX := int(padW + 0.5)
	offY := int(padH + 0.5)
	draw.Draw(dst, image.Rect(offX, offY, offX+newW, offY+newH), resized, image.Point{}, draw.Src)

	return dst, LetterboxInfo{Scale: scale, PadW: padW, PadH: padH, SrcW: srcW, SrcH: srcH}
}

// UndoLetterbox maps an xyxy box in letterboxed-pixel coordinates back to
// the original image's pixel coordinates, clipping to (W,H) (spec §4.4
// step 4).
func (l LetterboxInfo) UndoLetterbox(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	x1 = (x1 - l.PadW) / l.Scale
	y1 = (y1 - l.PadH) / l.Scale
	x2 = (x2 - l.PadW) / l.Scale
	y2 = (y2 - l.PadH) / l.Scale

	x1 = clamp(x1, 0, float64(l.SrcW))
	x2 = clamp(x2, 0, float64(l.SrcW))
	y1 = clamp(y1, 0, float64(l.SrcH))
	y2 = clamp(y2, 0, float64(l.SrcH))
	return x1, y1, x2, y2
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
