package app

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// SpectrumData is one rendered capture: rows of per-bin power in dB, DC
// centred.
type SpectrumData struct {
	Rows    [][]float64
	Rate    float64
	FFTSize int

	PowerMin float64
	PowerMax float64
}

// Run computes the spectrogram and writes the annotated PNG.
func Run(config *Config, logger *slog.Logger) error {
	if err := config.Validate(); err != nil {
		return err
	}

	spec, err := compute(config)
	if err != nil {
		return fmt.Errorf("computing spectrogram: %w", err)
	}
	logger.Info("spectrogram computed",
		slog.Int("rows", len(spec.Rows)),
		slog.Int("bins", spec.FFTSize))

	img := render(spec, config.Theme)

	if config.FontPath != "" {
		annotator, err := NewAnnotator(config.FontPath)
		if err != nil {
			return fmt.Errorf("creating annotator: %w", err)
		}
		if err = annotator.Annotate(img, spec); err != nil {
			return fmt.Errorf("annotating: %w", err)
		}
	}

	out, err := os.Create(config.Output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	if err = png.Encode(out, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}

	logger.Info("spectrogram written", slog.String("path", config.Output))
	return nil
}

// compute streams the capture one FFT frame at a time.
func compute(config *Config) (*SpectrumData, error) {
	f, err := os.Open(config.Input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := config.FFTSize
	fft := fourier.NewCmplxFFT(n)
	win := make([]float64, n)
	for i := range win {
		win[i] = 1.0
	}
	window.Hann(win)

	spec := &SpectrumData{
		Rate:     config.Rate(),
		FFTSize:  n,
		PowerMin: math.Inf(1),
		PowerMax: math.Inf(-1),
	}

	br := bufio.NewReaderSize(f, n*4)
	raw := make([]byte, n*4)
	frame := make([]complex128, n)
	coeff := make([]complex128, n)

	for {
		if _, err = io.ReadFull(br, raw); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}

		for i := 0; i < n; i++ {
			re := float64(int16(binary.LittleEndian.Uint16(raw[4*i:])))
			im := float64(int16(binary.LittleEndian.Uint16(raw[4*i+2:])))
			frame[i] = complex(re*win[i], im*win[i])
		}
		fft.Coefficients(coeff, frame)

		row := make([]float64, n)
		for i := range coeff {
			// Shift DC to the centre of the row.
			bin := (i + n/2) % n
			p := 10 * math.Log10(real(coeff[i])*real(coeff[i])+imag(coeff[i])*imag(coeff[i])+1e-12)
			row[bin] = p

			spec.PowerMin = math.Min(spec.PowerMin, p)
			spec.PowerMax = math.Max(spec.PowerMax, p)
		}
		spec.Rows = append(spec.Rows, row)
	}

	if len(spec.Rows) == 0 {
		return nil, fmt.Errorf("capture shorter than one FFT frame")
	}
	return spec, nil
}
