// Package decode converts raw edge-agent pixel buffers (NV12/I420/RGB8, or
// JPEG) into RGB image buffers the inference pipeline can letterbox and
// run. Spec §4.3. The {pixel_format, codec} → Decoder lookup table is
// built once at startup per §9's design note, replacing what would be a
// dynamic per-format dispatch in a dynamically typed source.
package decode

import (
	"fmt"
	"image"

	"github.com/rotisserie/eris"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

// ErrUnsupportedFormat is returned for unknown pixel-format/codec
// combinations (spec §4.3, §7 error code UNSUPPORTED_FORMAT).
var ErrUnsupportedFormat = eris.New("decode: unsupported pixel-format/codec combination")

// ErrInvalidFrame is returned for size mismatches or decode failures (spec
// §4.3, §7 error code INVALID_FRAME).
var ErrInvalidFrame = eris.New("decode: invalid frame payload")

// Decoder converts a raw payload of a declared width/height into an RGB
// image. Implementations must be deterministic: the same input always
// produces the same output dimensions.
type Decoder interface {
	Decode(data []byte, width, height int) (*image.RGBA, error)
}

type formatKey struct {
	pixelFormat wire.PixelFormat
	codec       wire.Codec
}

// Registry is the {pixel_format, codec} → Decoder lookup table.
type Registry struct {
	decoders map[formatKey]Decoder
}

// NewRegistry builds the standard registry: NV12/I420/RGB8 with no codec,
// and JPEG under any declared pixel format (the declared pixel format is
// advisory once a JPEG codec is present — the JPEG header is authoritative
// for color layout, matching the original Python frame_decoder.py's
// behavior of trusting the JPEG bytes over the declared format field).
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[formatKey]Decoder)}
	r.decoders[formatKey{wire.PixelNV12, wire.CodecNone}] = nv12Decoder{}
	r.decoders[formatKey{wire.PixelI420, wire.CodecNone}] = i420Decoder{}
	r.decoders[formatKey{wire.PixelRGB8, wire.CodecNone}] = rgb8Decoder{}

	jpeg := jpegDecoder{}
	r.decoders[formatKey{wire.PixelNV12, wire.CodecJPEG}] = jpeg
	r.decoders[formatKey{wire.PixelI420, wire.CodecJPEG}] = jpeg
	r.decoders[formatKey{wire.PixelRGB8, wire.CodecJPEG}] = jpeg
	return r
}

// Decode looks up the decoder for (pixelFormat, codec) and runs it.
func (r *Registry) Decode(pixelFormat wire.PixelFormat, codec wire.Codec, data []byte, width, height int) (*image.RGBA, error) {
	dec, ok := r.decoders[formatKey{pixelFormat, codec}]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "pixel_format=%s codec=%s", pixelFormat, codec)
	}
	img, err := dec.Decode(data, width, height)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func invalidFrame(format string, want, got int) error {
	return eris.Wrap(fmt.Errorf("%s: expected at least %d bytes, got %d: %w", format, want, got, ErrInvalidFrame), "decode")
}
