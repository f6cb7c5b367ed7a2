package imaging

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when a file is not a readable image.
var ErrDecode = errors.New("cannot decode image")

// LoadGray reads the image at path and collapses it to 8-bit grayscale.
func LoadGray(path string) (*image.Gray, error) {
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "open %s: %v", name, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s: %v", name, err)
	}
	if img.Bounds().Empty() {
		return nil, errors.Wrapf(ErrDecode, "%s: image has no pixels", name)
	}

	return ToGray(img), nil
}

// ToGray converts img to 8-bit grayscale and rebases it to the origin.
// Alpha is ignored: luma is computed from the unpremultiplied color, so a
// transparent pixel keeps the gray level of its color. YCbCr images
// contribute their Y plane unchanged. Gray images already at the origin are
// returned as is.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		if b.Min == (image.Point{}) {
			return src
		}
		gray := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+w], src.Pix[i:i+w])
		}
		return gray
	case *image.YCbCr:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray.Pix[y*gray.Stride+x] = src.Y[src.YOffset(b.Min.X+x, b.Min.Y+y)]
			}
		}
		return gray
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray.Pix[y*gray.Stride+x] = luma(unpremultiplied(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return gray
}

// unpremultiplied returns the straight color of c. Non-premultiplied colors
// are taken as stored, so their channels survive a zero alpha.
func unpremultiplied(c color.Color) color.NRGBA64 {
	switch c := c.(type) {
	case color.NRGBA:
		return color.NRGBA64{R: uint16(c.R) * 0x101, G: uint16(c.G) * 0x101, B: uint16(c.B) * 0x101, A: uint16(c.A) * 0x101}
	case color.NRGBA64:
		return c
	}
	return color.NRGBA64Model.Convert(c).(color.NRGBA64)
}

// luma applies the ITU-R 601 weights to 16-bit channels.
func luma(c color.NRGBA64) uint8 {
	y := (19595*uint32(c.R) + 38470*uint32(c.G) + 7471*uint32(c.B) + 1<<15) >> 24
	return uint8(y)
}
