package decode

import "image"

// i420Decoder decodes I420: a full-resolution Y plane, then planar U, then
// planar V, each subsampled by 2 in both dimensions (spec §4.3: "data ≥
// width·height + 2·(width·height/4); planar U, V").
type i420Decoder struct{}

func (i420Decoder) Decode(data []byte, width, height int) (*image.RGBA, error) {
	ySize := width * height
	chromaW := (width + 1) / 2
	chromaH := (height + 1) / 2
	chromaSize := chromaW * chromaH
	want := ySize + 2*chromaSize
	if len(data) < want {
		return nil, invalidFrame("i420", want, len(data))
	}

	yPlane := data[:ySize]
	uPlane := data[ySize : ySize+chromaSize]
	vPlane := data[ySize+chromaSize : ySize+2*chromaSize]

	img := yuvToRGBA(width, height, func(x, y int) (uint8, uint8, uint8) {
		yVal := yPlane[y*width+x]
		cIdx := (y/2)*chromaW + (x / 2)
		return yVal, uPlane[cIdx], vPlane[cIdx]
	})
	return img, nil
}
