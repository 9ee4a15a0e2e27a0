package app

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
)

const (
	dpi     float64 = 72
	size    float64 = 14
	spacing float64 = 1.1
)

type Annotator struct {
	context *freetype.Context
}

// NewAnnotator loads the TTF at fontPath for axis and info labelling.
func NewAnnotator(fontPath string) (*Annotator, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

func (a *Annotator) Annotate(img *image.RGBA, spec *SpectrumData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *SpectrumData) error
	}{
		{"drawing frequency scale", a.drawFreqScale},
		{"drawing info", a.drawInfo},
	}
	for _, op := range ops {
		if err := op.fn(img, spec); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *Annotator) drawFreqScale(img *image.RGBA, spec *SpectrumData) error {
	count := spec.FFTSize / 256
	if count < 2 {
		count = 2
	}
	hzPerLabel := spec.Rate / float64(count)
	pxPerLabel := spec.FFTSize / count

	for si := 0; si < count; si++ {
		hz := -spec.Rate/2 + float64(si)*hzPerLabel
		px := si * pxPerLabel

		// guideline on the exact frequency
		for i := 0; i < 20; i++ {
			img.Set(px, i, image.White)
		}

		pt := freetype.Pt(px+4, 14)
		if _, err := a.context.DrawString(a.humanHz(hz), pt); err != nil {
			return err
		}
	}

	return nil
}

func (a *Annotator) drawInfo(img *image.RGBA, spec *SpectrumData) error {
	duration := time.Duration(float64(len(spec.Rows)*spec.FFTSize) / spec.Rate * float64(time.Second))

	strings := []string{
		fmt.Sprintf("Rate: %s", a.humanHz(spec.Rate)),
		fmt.Sprintf("Span: %s", duration),
		fmt.Sprintf("Power: %.1f to %.1f dB", spec.PowerMin, spec.PowerMax),
	}

	imgSize := img.Bounds().Size()
	lineHeight := size * spacing
	pt := freetype.Pt(4, imgSize.Y-3*int(lineHeight))
	for _, s := range strings {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	return nil
}

func (a *Annotator) humanHz(hz float64) string {
	fpxSI, fpxSuffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", fpxSI, fpxSuffix)
}
