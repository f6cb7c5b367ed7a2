package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestLoadGray(t *testing.T) {
	t.Run("color png collapses to luma", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for i := 0; i < 16; i++ {
			img.SetRGBA(i%4, i/4, color.RGBA{R: 255, A: 255})
		}
		gray, err := LoadGray(writePNG(t, img))
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 4, 4), gray.Bounds())
		// 0.299 * 255
		assert.InDelta(t, 76, int(gray.GrayAt(2, 2).Y), 1)
	})

	t.Run("alpha is ignored", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		for i := 0; i < 16; i++ {
			img.SetNRGBA(i%4, i/4, color.NRGBA{R: 200, G: 200, B: 200, A: uint8(i * 17)})
		}
		gray, err := LoadGray(writePNG(t, img))
		require.NoError(t, err)
		for i := 0; i < 16; i++ {
			assert.Equal(t, uint8(200), gray.GrayAt(i%4, i/4).Y, "alpha %d", i*17)
		}
	})

	t.Run("transparent palette entry", func(t *testing.T) {
		palette := color.Palette{color.NRGBA{R: 90, G: 90, B: 90, A: 0}, color.NRGBA{R: 255, G: 255, B: 255, A: 255}}
		img := image.NewPaletted(image.Rect(0, 0, 2, 1), palette)
		img.SetColorIndex(1, 0, 1)
		gray, err := LoadGray(writePNG(t, img))
		require.NoError(t, err)
		assert.Equal(t, uint8(90), gray.GrayAt(0, 0).Y)
		assert.Equal(t, uint8(255), gray.GrayAt(1, 0).Y)
	})

	t.Run("jpeg", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scan.jpg")
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, jpeg.Encode(f, gradient(64, 48), nil))
		require.NoError(t, f.Close())

		gray, err := LoadGray(path)
		require.NoError(t, err)
		require.Equal(t, 64, gray.Bounds().Dx())
		require.Equal(t, 48, gray.Bounds().Dy())
	})

	t.Run("corrupt bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.png")
		require.NoError(t, os.WriteFile(path, []byte("definitely not an image"), 0o600))
		_, err := LoadGray(path)
		require.ErrorIs(t, err, ErrDecode)
		require.NotEmpty(t, err.Error())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadGray(filepath.Join(t.TempDir(), "absent.png"))
		require.ErrorIs(t, err, ErrDecode)
	})
}

func TestToGrayRebasesOrigin(t *testing.T) {
	sub := gradient(10, 10).SubImage(image.Rect(2, 3, 8, 9))
	gray := ToGray(sub)
	require.Equal(t, image.Rect(0, 0, 6, 6), gray.Bounds())
	require.Equal(t, uint8(5), gray.GrayAt(0, 0).Y)
}

func TestToGrayUsesLumaPlane(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = uint8(10 * i)
	}
	for i := range img.Cb {
		img.Cb[i], img.Cr[i] = 40, 220
	}

	gray := ToGray(img)
	require.Equal(t, image.Rect(0, 0, 4, 2), gray.Bounds())
	for i, y := range img.Y {
		require.Equal(t, y, gray.Pix[i])
	}
}

func TestPreprocess(t *testing.T) {
	sizes := []image.Point{{256, 256}, {64, 64}, {300, 120}, {128, 128}, {1, 1}}
	for _, size := range sizes {
		tensor, resized := Preprocess(gradient(size.X, size.Y))

		require.Equal(t, []int64{1, 1, model.ImageSize, model.ImageSize}, tensor.Shape)
		require.Len(t, tensor.Data, model.ImageSize*model.ImageSize)
		require.Equal(t, image.Rect(0, 0, model.ImageSize, model.ImageSize), resized.Bounds())
		for _, v := range tensor.Data {
			require.GreaterOrEqual(t, v, float32(0))
			require.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestResizeDownscaleAveragesDetail(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 512, 512))
	for y := 0; y < 512; y++ {
		for x := 0; x < 512; x++ {
			if (x+y)%2 == 0 {
				src.Pix[y*src.Stride+x] = 255
			}
		}
	}

	out := Resize(src, model.ImageSize)
	require.Equal(t, image.Rect(0, 0, model.ImageSize, model.ImageSize), out.Bounds())
	assert.InDelta(t, 127, int(out.GrayAt(64, 64).Y), 20)
}

func TestPreprocessScalesBy255(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, model.ImageSize, model.ImageSize))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Pix[0] = 51

	tensor, _ := Preprocess(img)
	require.InDelta(t, 0.2, tensor.Data[0], 1e-6)
	require.InDelta(t, 1.0, tensor.Data[len(tensor.Data)-1], 1e-6)
}

func TestPreprocessDeterministic(t *testing.T) {
	src := gradient(200, 150)
	a, _ := Preprocess(src)
	b, _ := Preprocess(src)
	require.Equal(t, a.Data, b.Data)
}

func TestColormaps(t *testing.T) {
	require.Equal(t, color.RGBA{R: 0, G: 0, B: 127, A: 255}, Jet(0))
	require.Equal(t, color.RGBA{R: 127, G: 0, B: 0, A: 255}, Jet(1))
	require.Equal(t, Jet(1), Jet(3))

	require.Equal(t, color.RGBA{A: 255}, Grayscale(0))
	require.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, Grayscale(1))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, []float64{0, 0.5, 1}, normalize([]uint8{10, 20, 30}))
	require.Equal(t, []float64{0, 0, 0}, normalize([]uint8{7, 7, 7}))
	require.Empty(t, normalize(nil))
}

func TestRender(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	base := gradient(model.ImageSize, model.ImageSize)
	mask := &model.Mask{Width: model.ImageSize, Height: model.ImageSize, Data: make([]uint8, model.ImageSize*model.ImageSize)}
	for i := 0; i < 500; i++ {
		mask.Data[i] = 1
	}

	out, err := renderer.Render(base, mask, "Predicted: glioma")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	b := img.Bounds()
	require.GreaterOrEqual(t, b.Dx(), 462+20)
	require.Greater(t, b.Dy(), 462+20)

	// pad stays white
	r, g, bl, _ := img.At(0, 0).RGBA()
	require.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, bl})

	again, err := renderer.Render(base, mask, "Predicted: glioma")
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestRenderRecordsDPI(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	base := gradient(model.ImageSize, model.ImageSize)
	mask := &model.Mask{Width: model.ImageSize, Height: model.ImageSize, Data: make([]uint8, model.ImageSize*model.ImageSize)}
	out, err := renderer.Render(base, mask, "Predicted: no_tumor")
	require.NoError(t, err)

	phys := out[pngHeaderLen : pngHeaderLen+21]
	require.Equal(t, uint32(9), binary.BigEndian.Uint32(phys[0:4]))
	require.Equal(t, "pHYs", string(phys[4:8]))
	// 100 dpi in pixels per meter
	require.Equal(t, uint32(3937), binary.BigEndian.Uint32(phys[8:12]))
	require.Equal(t, uint32(3937), binary.BigEndian.Uint32(phys[12:16]))
	require.Equal(t, byte(1), phys[16])
	require.Equal(t, crc32.ChecksumIEEE(phys[4:17]), binary.BigEndian.Uint32(phys[17:21]))

	_, err = png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	_, err = withDPI([]byte("not a png"), 100)
	require.Error(t, err)
}

func TestRenderSizeMismatch(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	_, err = renderer.Render(gradient(128, 128), &model.Mask{Width: 64, Height: 64, Data: make([]uint8, 64*64)}, "x")
	require.Error(t, err)
}

func TestBlend(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 2, 1))
	base.Pix = []uint8{0, 200}
	mask := &model.Mask{Width: 2, Height: 1, Data: []uint8{0, 1}}

	out := blend(base, mask)
	// black under jet(0), white under jet(1)
	require.Equal(t, color.RGBA{R: 0, G: 0, B: 64, A: 255}, out.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{R: 191, G: 128, B: 128, A: 255}, out.RGBAAt(1, 0))
}
