package decode

import "image"

// nv12Decoder decodes NV12: a full-resolution Y plane followed by a
// half-resolution, horizontally-and-vertically subsampled UV plane with U
// and V interleaved (spec §4.3: "data ≥ width·height + width·height/2;
// interleaved UV plane").
type nv12Decoder struct{}

func (nv12Decoder) Decode(data []byte, width, height int) (*image.RGBA, error) {
	ySize := width * height
	uvSize := ySize / 2
	want := ySize + uvSize
	if len(data) < want {
		return nil, invalidFrame("nv12", want, len(data))
	}

	yPlane := data[:ySize]
	uvPlane := data[ySize : ySize+uvSize]
	uvStride := width // two interleaved bytes per 2x2 block row pair

	img := yuvToRGBA(width, height, func(x, y int) (uint8, uint8, uint8) {
		yVal := yPlane[y*width+x]
		cRow := (y / 2) * uvStride
		cCol := (x / 2) * 2
		idx := cRow + cCol
		u := uvPlane[idx]
		v := uvPlane[idx+1]
		return yVal, u, v
	})
	return img, nil
}
