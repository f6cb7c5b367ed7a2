package imaging

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

// Resize scales src to size x size with bilinear interpolation. The aspect
// ratio is not preserved. When downscaling, the kernel widens with the scale
// factor, so detail finer than the target grid is averaged rather than
// sampled.
func Resize(src *image.Gray, size int) *image.Gray {
	return ToGray(resize.Resize(uint(size), uint(size), src, resize.Bilinear))
}

// Preprocess resizes src to the network resolution and packs it into a
// (1,1,H,W) tensor of pixel/255. The resized image is returned as well so that
// the overlay is drawn on exactly what the network saw.
func Preprocess(src *image.Gray) (*model.Tensor, *image.Gray) {
	size := model.ImageSize
	resized := Resize(src, size)

	data := make([]float32, size*size)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size]
		for x, v := range row {
			data[y*size+x] = float32(v) / 255.0
		}
	}

	return &model.Tensor{
		Shape: []int64{1, 1, int64(size), int64(size)},
		Data:  data,
	}, resized
}
