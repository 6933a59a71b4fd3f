package decode

import "image"

// yuvToRGBA applies the standard BT.601 full-range YCbCr→RGB conversion
// into an *image.RGBA, given a function that returns the (Y, Cb, Cr)
// sample for pixel (x, y). This is shared by the NV12 (interleaved UV) and
// I420 (planar U/V) decoders, which differ only in how they index chroma.
func yuvToRGBA(width, height int, sample func(x, y int) (y8, cb, cr uint8)) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			yy, cb, cr := sample(x, y)
			r, g, b := ycbcrToRGB(yy, cb, cr)
			off := img.PixOffset(x, y)
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 0xff
		}
	}
	return img
}

func ycbcrToRGB(y, cb, cr uint8) (uint8, uint8, uint8) {
	yy := int32(y)
	cb32 := int32(cb) - 128
	cr32 := int32(cr) - 128

	r := yy + (91881*cr32)>>16
	g := yy - (22554*cb32+46802*cr32)>>16
	b := yy + (116130*cb32)>>16

	return clampByte(r), clampByte(g), clampByte(b)
}

func clampByte(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
