package decode

import (
	"fmt"
	"image"

	"github.com/rotisserie/eris"
)

// rgb8Decoder decodes packed, interleaved 8-bit RGB: exactly
// width*height*3 bytes (spec §4.3).
type rgb8Decoder struct{}

func (rgb8Decoder) Decode(data []byte, width, height int) (*image.RGBA, error) {
	want := width * height * 3
	if len(data) != want {
		return nil, eris.Wrap(fmt.Errorf("rgb8: expected exactly %d bytes, got %d: %w", want, len(data), ErrInvalidFrame), "decode")
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcOff := (y*width + x) * 3
			dstOff := img.PixOffset(x, y)
			img.Pix[dstOff] = data[srcOff]
			img.Pix[dstOff+1] = data[srcOff+1]
			img.Pix[dstOff+2] = data[srcOff+2]
			img.Pix[dstOff+3] = 0xff
		}
	}
	return img, nil
}
