package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

// Figure geometry, in inches and points at a fixed DPI. The plot area of a
// 6x6 figure keeps the default subplot margins; the output is then cropped
// to image and title plus a uniform pad.
const (
	figureInches   = 6.0
	dpi            = 100.0
	padInches      = 0.1
	axesWidthFrac  = 0.9 - 0.125
	axesHeightFrac = 0.88 - 0.11
	titlePoints    = 14.4
	titlePadPoints = 6.0
	maskAlpha      = 0.5
)

// Renderer draws the prediction overlay. It is safe for concurrent use.
type Renderer struct {
	font *opentype.Font
}

// NewRenderer parses the title font.
func NewRenderer() (*Renderer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "parse title font")
	}
	return &Renderer{font: f}, nil
}

// Render composites mask over base (both at the same resolution) with the
// jet ramp at 50% opacity, writes title above it, and encodes the result as
// PNG. Both layers are min/max normalized before color mapping.
func (r *Renderer) Render(base *image.Gray, mask *model.Mask, title string) ([]byte, error) {
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	if mask.Width != w || mask.Height != h || len(mask.Data) != w*h {
		return nil, errors.Errorf("mask is %dx%d, image is %dx%d", mask.Width, mask.Height, w, h)
	}

	composite := blend(base, mask)

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    titlePoints,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create title face")
	}
	defer face.Close()

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	titleHeight := ascent + metrics.Descent.Ceil()
	titleWidth := font.MeasureString(face, title).Ceil()

	side := int(math.Round(math.Min(axesWidthFrac, axesHeightFrac) * figureInches * dpi))
	pad := int(math.Round(padInches * dpi))
	titlePad := int(math.Round(titlePadPoints * dpi / 72))

	width := max(side, titleWidth) + 2*pad
	height := pad + titleHeight + titlePad + side + pad

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	left := (width - side) / 2
	top := pad + titleHeight + titlePad
	draw.NearestNeighbor.Scale(canvas, image.Rect(left, top, left+side, top+side),
		composite, composite.Bounds(), draw.Src, nil)

	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P((width-titleWidth)/2, pad+ascent),
	}
	drawer.DrawString(title)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return withDPI(buf.Bytes(), dpi)
}

// pngHeaderLen covers the signature and the IHDR chunk, which the encoder
// always writes first.
const pngHeaderLen = 8 + 4 + 4 + 13 + 4

// withDPI inserts a pHYs chunk recording dpi right after IHDR.
func withDPI(encoded []byte, dpi float64) ([]byte, error) {
	if len(encoded) < pngHeaderLen || string(encoded[12:16]) != "IHDR" {
		return nil, errors.New("encode png: missing IHDR")
	}

	ppm := uint32(math.Round(dpi / 0.0254))
	chunk := make([]byte, 4+4+9+4)
	binary.BigEndian.PutUint32(chunk[0:], 9)
	copy(chunk[4:], "pHYs")
	binary.BigEndian.PutUint32(chunk[8:], ppm)
	binary.BigEndian.PutUint32(chunk[12:], ppm)
	chunk[16] = 1 // unit: meter
	binary.BigEndian.PutUint32(chunk[17:], crc32.ChecksumIEEE(chunk[4:17]))

	out := make([]byte, 0, len(encoded)+len(chunk))
	out = append(out, encoded[:pngHeaderLen]...)
	out = append(out, chunk...)
	return append(out, encoded[pngHeaderLen:]...), nil
}

// blend maps base through the gray ramp and mask through the jet ramp and
// mixes them at maskAlpha.
func blend(base *image.Gray, mask *model.Mask) *image.RGBA {
	w, h := mask.Width, mask.Height

	pixels := make([]uint8, 0, w*h)
	for y := 0; y < h; y++ {
		pixels = append(pixels, base.Pix[y*base.Stride:y*base.Stride+w]...)
	}
	grayLevels := normalize(pixels)
	maskLevels := normalize(mask.Data)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range maskLevels {
		bg := Grayscale(grayLevels[i])
		fg := Jet(maskLevels[i])
		out.SetRGBA(i%w, i/w, color.RGBA{
			R: mix(fg.R, bg.R),
			G: mix(fg.G, bg.G),
			B: mix(fg.B, bg.B),
			A: 255,
		})
	}
	return out
}

func mix(fg, bg uint8) uint8 {
	return uint8(math.Round(maskAlpha*float64(fg) + (1-maskAlpha)*float64(bg)))
}
