package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

func TestRegistry_RGB8(t *testing.T) {
	r := NewRegistry()
	w, h := 4, 2
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i % 255)
	}
	img, err := r.Decode(wire.PixelRGB8, wire.CodecNone, data, w, h)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Fatalf("unexpected bounds: %v", img.Bounds())
	}
}

func TestRegistry_RGB8_SizeMismatch(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode(wire.PixelRGB8, wire.CodecNone, []byte{1, 2, 3}, 4, 4)
	if err == nil {
		t.Fatal("expected error for size mismatch")
	}
}

func TestRegistry_UnsupportedCombination(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode(wire.PixelFormat(99), wire.CodecNone, []byte{1}, 1, 1)
	if err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestRegistry_NV12_SolidColor(t *testing.T) {
	r := NewRegistry()
	w, h := 2, 2
	// Y=235 (nominal white luma), neutral chroma (128,128) => near-white RGB.
	data := make([]byte, w*h+w*h/2)
	for i := 0; i < w*h; i++ {
		data[i] = 235 // standard "white" luma in limited-ish range, full-range approx here
	}
	data[w*h] = 128
	data[w*h+1] = 128
	img, err := r.Decode(wire.PixelNV12, wire.CodecNone, data, w, h)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r0, g0, b0, _ := img.At(0, 0).RGBA()
	if r0>>8 < 200 || g0>>8 < 200 || b0>>8 < 200 {
		t.Fatalf("expected near-white pixel, got r=%d g=%d b=%d", r0>>8, g0>>8, b0>>8)
	}
}

func TestRegistry_JPEG_ResizesToDeclaredDimensions(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	r := NewRegistry()
	img, err := r.Decode(wire.PixelRGB8, wire.CodecJPEG, buf.Bytes(), 4, 4)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("expected resize to 4x4, got %v", img.Bounds())
	}
}
