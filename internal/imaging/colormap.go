package imaging

import "image/color"

const lutSize = 256

type anchor struct {
	x, y float64
}

// Segment data of the "jet" ramp: dark blue at 0, dark red at 1.
var (
	jetRed   = []anchor{{0, 0}, {0.35, 0}, {0.66, 1}, {0.89, 1}, {1, 0.5}}
	jetGreen = []anchor{{0, 0}, {0.125, 0}, {0.375, 1}, {0.64, 1}, {0.91, 0}, {1, 0}}
	jetBlue  = []anchor{{0, 0.5}, {0.11, 1}, {0.34, 1}, {0.65, 0}, {1, 0}}
)

var jetLUT = buildLUT(func(v float64) (float64, float64, float64) {
	return interpolate(jetRed, v), interpolate(jetGreen, v), interpolate(jetBlue, v)
})

var grayLUT = buildLUT(func(v float64) (float64, float64, float64) {
	return v, v, v
})

func buildLUT(f func(float64) (float64, float64, float64)) [lutSize]color.RGBA {
	var lut [lutSize]color.RGBA
	for i := range lut {
		r, g, b := f(float64(i) / (lutSize - 1))
		lut[i] = color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
	}
	return lut
}

func interpolate(anchors []anchor, v float64) float64 {
	for i := 1; i < len(anchors); i++ {
		lo, hi := anchors[i-1], anchors[i]
		if v <= hi.x {
			return lo.y + (v-lo.x)*(hi.y-lo.y)/(hi.x-lo.x)
		}
	}
	return anchors[len(anchors)-1].y
}

func lookup(lut *[lutSize]color.RGBA, v float64) color.RGBA {
	i := int(v * lutSize)
	switch {
	case i < 0:
		i = 0
	case i >= lutSize:
		i = lutSize - 1
	}
	return lut[i]
}

// Jet maps v in [0,1] onto the jet ramp. Values outside are clipped.
func Jet(v float64) color.RGBA {
	return lookup(&jetLUT, v)
}

// Grayscale maps v in [0,1] onto black..white. Values outside are clipped.
func Grayscale(v float64) color.RGBA {
	return lookup(&grayLUT, v)
}

// normalize scales values linearly so that their minimum maps to 0 and their
// maximum to 1. A constant input maps entirely to 0.
func normalize(values []uint8) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return out
	}

	span := float64(hi - lo)
	for i, v := range values {
		out[i] = float64(v-lo) / span
	}
	return out
}
