package decode

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/rotisserie/eris"
)

// jpegDecoder decodes a JPEG payload and normalizes it to exactly
// (height, width, 3) (spec §4.3: "must decode to exactly (height, width,
// 3); implementer may accept off-size and resize, but must be consistent
// between runs"). We take the resize option: a JPEG whose intrinsic
// dimensions differ from the declared width/height is scaled with
// x/image/draw's bilinear sampler rather than rejected, which is the more
// useful behavior for edge agents that re-encode at a slightly different
// size than they declare.
//
// image/jpeg is the stdlib decoder; no third-party JPEG codec appears
// anywhere in the retrieved corpus, so there is no ecosystem alternative to
// adopt here (see DESIGN.md).
type jpegDecoder struct{}

func (jpegDecoder) Decode(data []byte, width, height int) (*image.RGBA, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(ErrInvalidFrame, err.Error())
	}

	bounds := src.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(img, img.Bounds(), src, bounds.Min, draw.Src)
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst, nil
}
