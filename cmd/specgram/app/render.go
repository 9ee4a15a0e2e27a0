package app

import (
	"image"
	"image/color"
	"math"
)

// render maps the power rows onto a themed RGBA image, one pixel per bin
// per FFT frame.
func render(spec *SpectrumData, theme string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, spec.FFTSize, len(spec.Rows)))
	toColor := colorTheme(theme)

	span := spec.PowerMax - spec.PowerMin
	if span <= 0 {
		span = 1
	}

	for y, row := range spec.Rows {
		for x, p := range row {
			img.Set(x, y, toColor((p-spec.PowerMin)/span))
		}
	}
	return img
}

// colorTheme returns a normalized-power to color mapping.
func colorTheme(theme string) func(float64) color.Color {
	switch theme {
	case GrayscaleTheme: // Black -> White
		return func(power float64) color.Color {
			v := math.Pow(clamp(power), 0.7) * 255
			return color.RGBA{R: uint8(v), G: uint8(v), B: uint8(v), A: 0xff}
		}

	default: // Black -> Red -> Yellow -> White
		return func(power float64) color.Color {
			p := clamp(power)
			if p < 0.33 {
				return color.RGBA{R: uint8(p * 3 * 255), A: 0xff}
			} else if p < 0.66 {
				return color.RGBA{R: 255, G: uint8((p - 0.33) * 3 * 255), A: 0xff}
			}
			return color.RGBA{R: 255, G: 255, B: uint8((p - 0.66) * 3 * 255), A: 0xff}
		}
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
