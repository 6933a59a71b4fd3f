package inference

import "image"

// ToCHWTensor normalizes an SxS RGBA image to [0,1] and transposes it to
// channel-first layout, returning a flat (1,3,S,S) tensor (spec §4.4 step 2).
func ToCHWTensor(img *image.RGBA, size int) []float32 {
	tensor := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := img.PixOffset(x, y)
			idx := y*size + x
			tensor[0*plane+idx] = float32(img.Pix[off]) / 255.0
			tensor[1*plane+idx] = float32(img.Pix[off+1]) / 255.0
			tensor[2*plane+idx] = float32(img.Pix[off+2]) / 255.0
		}
	}
	return tensor
}
